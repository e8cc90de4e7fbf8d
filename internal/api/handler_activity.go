package api

import (
	"cmp"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/mw"
	"hub-activity-backend/internal/tenant"
	"hub-activity-backend/internal/volumes"
)

// userActivity is one row of the activity monitor.
type userActivity struct {
	Username             string             `json:"username"`
	Admin                bool               `json:"admin"`
	ServerActive         bool               `json:"server_active"`
	RecentlyActive       bool               `json:"recently_active"`
	CPUPercent           *float64           `json:"cpu_percent"`
	MemoryMB             *float64           `json:"memory_mb"`
	MemoryPercent        *float64           `json:"memory_percent"`
	TimeRemainingSeconds *int               `json:"time_remaining_seconds"`
	ActivityScore        *int               `json:"activity_score"`
	SampleCount          int                `json:"sample_count"`
	LastActivity         *time.Time         `json:"last_activity"`
	VolumeSizeMB         float64            `json:"volume_size_mb"`
	VolumeBreakdown      map[string]float64 `json:"volume_breakdown"`
}

type activityResponse struct {
	Users                []*userActivity `json:"users"`
	Timestamp            time.Time       `json:"timestamp"`
	SamplingStatus       string          `json:"sampling_status"`
	InactiveAfterSeconds int             `json:"inactive_after_seconds"`
}

// GetActivity handles GET /hub/api/activity. Tenants are listed when they
// have a running server, a sample or a recorded activity. Live stats are
// fetched in parallel for running servers; a tenant whose stats cannot be
// read keeps null stats.
func (h *Handler) GetActivity(c *gin.Context) {
	ctx := c.Request.Context()
	log.Printf("[Activity Data] Admin %s requested activity data", mw.CurrentTenant(c).Name)

	tenants, err := h.dir.List(ctx)
	if err != nil {
		log.Printf("[Activity Data] Failed to list users: %v", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Failed to list users"})
		return
	}

	sizes := h.volumes.Get()
	now := h.now()
	inactiveAfter := h.monitor.InactiveAfter()

	users := make([]*userActivity, 0, len(tenants))
	var running []*userActivity
	for i := range tenants {
		t := &tenants[i]
		vol := volumes.Lookup(sizes, docker.EncodeName(t.Name))

		row := &userActivity{
			Username:        t.Name,
			Admin:           t.Admin,
			ServerActive:    t.ServerActive(),
			VolumeSizeMB:    vol.TotalMB,
			VolumeBreakdown: vol.Volumes,
		}
		row.ActivityScore, row.SampleCount = h.monitor.Score(ctx, t.Name)

		if la := t.WorkloadActivity(); la != nil {
			row.LastActivity = la
			row.RecentlyActive = row.ServerActive && now.Sub(*la) <= inactiveAfter
			if row.ServerActive && h.session.CullerEnabled {
				remaining := timeRemaining(h.session.TimeoutSeconds, h.extensionHours(c, t.Name), la, now)
				row.TimeRemainingSeconds = &remaining
			}
		}

		if row.ServerActive {
			running = append(running, row)
		}
		if row.ServerActive || row.SampleCount > 0 || row.LastActivity != nil {
			users = append(users, row)
		}
	}

	var g errgroup.Group
	for _, row := range running {
		g.Go(func() error {
			if s := h.stats.Get(ctx, row.Username); s != nil {
				row.CPUPercent = &s.CPUPercent
				row.MemoryMB = &s.MemoryMB
				row.MemoryPercent = &s.MemoryPercent
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(users, func(a, b *userActivity) int {
		if a.ServerActive != b.ServerActive {
			if a.ServerActive {
				return -1
			}
			return 1
		}
		return cmp.Compare(scoreOf(b), scoreOf(a))
	})

	log.Printf("[Activity Data] Returning data for %d user(s)", len(users))
	c.JSON(http.StatusOK, activityResponse{
		Users:                users,
		Timestamp:            h.now(),
		SamplingStatus:       h.monitor.Status(ctx),
		InactiveAfterSeconds: int(inactiveAfter.Seconds()),
	})
}

func scoreOf(u *userActivity) int {
	if u.ActivityScore == nil {
		return 0
	}
	return *u.ActivityScore
}

// extensionHours reads the tenant's granted extension hours. An unreadable
// state counts as no extension.
func (h *Handler) extensionHours(c *gin.Context, name string) int {
	state, err := h.state.GetState(c.Request.Context(), name)
	if err != nil {
		log.Printf("[Activity Data] Failed to read server state for %s: %v", name, err)
		return 0
	}
	return tenant.ExtensionHoursUsed(state)
}

// ResetActivity handles POST /hub/api/activity/reset.
func (h *Handler) ResetActivity(c *gin.Context) {
	log.Printf("[Activity Reset] Admin %s requested activity reset", mw.CurrentTenant(c).Name)
	deleted := h.monitor.ResetAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

// SampleNow handles POST /hub/api/activity/sample. It runs a full sampling
// pass synchronously, even while a scheduled tick is in flight.
func (h *Handler) SampleNow(c *gin.Context) {
	log.Printf("[Activity Sample] Admin %s triggered activity sampling", mw.CurrentTenant(c).Name)
	counts, err := h.sampler.SampleOnce(c.Request.Context())
	if err != nil {
		log.Printf("[Activity Sample] Failed: %v", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"success": false, "error": "Failed to list users"})
		return
	}

	log.Printf("[Activity Sample] Recorded %d samples: %d active, %d inactive, %d offline",
		counts.Total, counts.Active, counts.Inactive, counts.Offline)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"total":    counts.Total,
		"active":   counts.Active,
		"inactive": counts.Inactive,
		"offline":  counts.Offline,
	})
}

// PruneActivity handles POST /hub/api/activity/prune.
func (h *Handler) PruneActivity(c *gin.Context) {
	pruned := h.monitor.PruneOldSamples(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "pruned": pruned})
}

type renameRequest struct {
	NewName string `json:"new_name" binding:"required"`
}

// RenameActivityUser handles POST /hub/api/activity/users/{name}/rename.
func (h *Handler) RenameActivityUser(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "new_name is required"})
		return
	}
	h.respondMutation(c, h.monitor.RenameUser(c.Request.Context(), c.Param("name"), req.NewName))
}

// DeleteActivityUser handles DELETE /hub/api/activity/users/{name}.
func (h *Handler) DeleteActivityUser(c *gin.Context) {
	h.respondMutation(c, h.monitor.DeleteUser(c.Request.Context(), c.Param("name")))
}

// InitActivityUser handles POST /hub/api/activity/users/{name}/init.
func (h *Handler) InitActivityUser(c *gin.Context) {
	h.respondMutation(c, h.monitor.InitializeUser(c.Request.Context(), c.Param("name")))
}

func (h *Handler) respondMutation(c *gin.Context, ok bool) {
	if !ok {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Activity store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

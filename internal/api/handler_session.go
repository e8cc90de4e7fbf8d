package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hub-activity-backend/internal/tenant"
)

type sessionInfo struct {
	CullerEnabled            bool       `json:"culler_enabled"`
	ServerActive             bool       `json:"server_active"`
	TimeoutSeconds           int        `json:"timeout_seconds"`
	MaxExtensionHours        int        `json:"max_extension_hours"`
	LastActivity             *time.Time `json:"last_activity"`
	TimeRemainingSeconds     *int       `json:"time_remaining_seconds"`
	ExtensionsUsedHours      int        `json:"extensions_used_hours"`
	ExtensionsAvailableHours int        `json:"extensions_available_hours"`
}

// lookupTenant resolves the route's tenant, writing the error response
// and returning nil when it cannot.
func (h *Handler) lookupTenant(c *gin.Context) *tenant.Tenant {
	name := c.Param("name")
	t, err := h.dir.Get(c.Request.Context(), name)
	if errors.Is(err, tenant.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil
	}
	if err != nil {
		log.Printf("[API] Failed to look up user %s: %v", name, err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Failed to look up user"})
		return nil
	}
	return t
}

// SessionInfo handles GET /hub/api/users/{name}/session-info.
func (h *Handler) SessionInfo(c *gin.Context) {
	t := h.lookupTenant(c)
	if t == nil {
		return
	}

	info := sessionInfo{
		CullerEnabled:            h.session.CullerEnabled,
		ServerActive:             t.ServerActive(),
		TimeoutSeconds:           h.session.TimeoutSeconds,
		MaxExtensionHours:        h.session.MaxExtensionHours,
		ExtensionsAvailableHours: h.session.MaxExtensionHours,
	}

	if info.ServerActive && info.CullerEnabled {
		state, err := h.state.GetState(c.Request.Context(), t.Name)
		if err != nil {
			log.Printf("[Session Info] Failed to read server state for %s: %v", t.Name, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to read session state"})
			return
		}
		used := tenant.ExtensionHoursUsed(state)
		la := t.WorkloadActivity()
		remaining := timeRemaining(h.session.TimeoutSeconds, used, la, h.now())

		info.LastActivity = la
		info.TimeRemainingSeconds = &remaining
		info.ExtensionsUsedHours = used
		info.ExtensionsAvailableHours = max(0, h.session.MaxExtensionHours-used)
	}

	c.JSON(http.StatusOK, info)
}

type extendRequest struct {
	Hours *float64 `json:"hours"`
}

// parseExtendHours reads the requested hours from the body. An empty body
// or a missing field asks for one hour.
func parseExtendHours(body io.Reader) (int, error) {
	var req extendRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if req.Hours == nil {
		return 1, nil
	}
	hours := int(*req.Hours)
	if *req.Hours <= 0 || hours < 1 {
		return 0, fmt.Errorf("invalid hours value %v", *req.Hours)
	}
	return hours, nil
}

// ExtendSession handles POST /hub/api/users/{name}/extend-session. A request
// larger than the remaining allowance is truncated to it; a request with no
// allowance left is rejected.
func (h *Handler) ExtendSession(c *gin.Context) {
	hours, err := parseExtendHours(c.Request.Body)
	if err != nil {
		log.Printf("[Extend Session] Invalid request: %v", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request. Hours must be a positive number."})
		return
	}

	if !h.session.CullerEnabled {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Idle culler is not enabled"})
		return
	}

	t := h.lookupTenant(c)
	if t == nil {
		return
	}
	if !t.ServerActive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Server is not running"})
		return
	}

	ctx := c.Request.Context()
	maxHours := h.session.MaxExtensionHours

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	state, err := h.state.GetState(ctx, t.Name)
	if err != nil {
		log.Printf("[Extend Session] Failed to read server state for %s: %v", t.Name, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to read session state"})
		return
	}

	used := tenant.ExtensionHoursUsed(state)
	available := maxHours - used
	if available <= 0 {
		log.Printf("[Extend Session] %s: DENIED - no extension hours available (used=%dh, max=%dh)", t.Name, used, maxHours)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Maximum extension limit reached (%d hours). No more extensions available.", maxHours),
		})
		return
	}

	requested := hours
	truncated := hours > available
	if truncated {
		hours = available
	}
	total := used + hours

	if err := h.state.ReplaceState(ctx, t.Name, tenant.WithExtensionHours(state, total)); err != nil {
		log.Printf("[Extend Session] Failed to save server state for %s: %v", t.Name, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save session state"})
		return
	}

	remaining := timeRemaining(h.session.TimeoutSeconds, total, t.WorkloadActivity(), h.now())
	log.Printf("[Extend Session] %s: SUCCESS - added %dh, total extensions=%dh, remaining=%.1fh",
		t.Name, hours, total, float64(remaining)/3600)

	message := fmt.Sprintf("Added %d hour(s) to session", hours)
	if truncated {
		message += fmt.Sprintf(" (requested %dh, limited to available %dh)", requested, hours)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   message,
		"truncated": truncated,
		"session_info": gin.H{
			"time_remaining_seconds":     remaining,
			"extensions_used_hours":      total,
			"extensions_available_hours": maxHours - total,
		},
	})
}

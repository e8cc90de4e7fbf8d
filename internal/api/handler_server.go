package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"hub-activity-backend/internal/docker"
)

// RestartStopTimeout is how long a restarting container may take to stop
// before it is killed.
const RestartStopTimeout = 10 * time.Second

// RestartServer handles POST /hub/api/users/{name}/restart-server.
func (h *Handler) RestartServer(c *gin.Context) {
	t := h.lookupTenant(c)
	if t == nil {
		return
	}
	if !t.ServerActive() {
		log.Printf("[Restart Server] Server of %s is not running, cannot restart", t.Name)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Server is not running"})
		return
	}

	name := h.naming.Container(t.Name)
	// Stopping alone may take the full stop timeout.
	err := h.pool.DoTimeout(c.Request.Context(), 2*RestartStopTimeout, func(ctx context.Context) error {
		return h.orch.RestartContainer(ctx, name, RestartStopTimeout)
	})
	if errors.Is(err, docker.ErrNotFound) {
		log.Printf("[Restart Server] Container %s not found", name)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Container %s not found", name)})
		return
	}
	if err != nil {
		log.Printf("[Restart Server] Failed to restart container %s: %v", name, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to restart container: %v", err)})
		return
	}

	log.Printf("[Restart Server] Container %s successfully restarted for user %s", name, t.Name)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Container %s successfully restarted", name)})
}

type manageVolumesRequest struct {
	Volumes []string `json:"volumes"`
}

type failedVolume struct {
	Volume string `json:"volume"`
	Reason string `json:"reason"`
}

// ManageVolumes handles DELETE /hub/api/users/{name}/manage-volumes. The
// listed volumes are removed one by one; a volume that cannot be removed
// is reported without aborting the others.
func (h *Handler) ManageVolumes(c *gin.Context) {
	var req manageVolumesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[Manage Volumes] Failed to parse request body: %v", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Volumes) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No volumes specified"})
		return
	}

	var invalid []string
	for _, v := range req.Volumes {
		if !h.suffixes[v] && !slices.Contains(invalid, v) {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid volume types: %v", invalid)})
		return
	}

	t := h.lookupTenant(c)
	if t == nil {
		return
	}
	if t.ServerActive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Server must be stopped before resetting volumes"})
		return
	}

	reset := []string{}
	failed := []failedVolume{}
	for _, suffix := range req.Volumes {
		name := h.naming.Volume(t.Name, suffix)
		err := h.pool.Do(c.Request.Context(), func(ctx context.Context) error {
			return h.orch.RemoveVolume(ctx, name)
		})
		switch {
		case err == nil:
			log.Printf("[Manage Volumes] Successfully removed volume %s", name)
			reset = append(reset, suffix)
		case errors.Is(err, docker.ErrNotFound):
			log.Printf("[Manage Volumes] Volume %s not found, skipping", name)
			failed = append(failed, failedVolume{Volume: suffix, Reason: "not found"})
		default:
			log.Printf("[Manage Volumes] Failed to remove volume %s: %v", name, err)
			failed = append(failed, failedVolume{Volume: suffix, Reason: err.Error()})
		}
	}

	log.Printf("[Manage Volumes] Operation complete: %d reset, %d failed", len(reset), len(failed))
	c.JSON(http.StatusOK, gin.H{
		"message":        fmt.Sprintf("Successfully reset %d volume(s)", len(reset)),
		"reset_volumes":  reset,
		"failed_volumes": failed,
	})
}

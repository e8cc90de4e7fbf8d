package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/mw"
	"hub-activity-backend/internal/tenant"
)

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"sampling_status": h.monitor.Status(c.Request.Context()),
	})
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, auth tenant.Authenticator, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authTTL := time.Duration(cfg.Hub.AuthCacheSeconds) * time.Second
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// API group
	api := r.Group("/hub/api")
	api.Use(mw.TokenAuth(auth, authTTL), rateLimiter)
	{
		activity := api.Group("/activity", mw.RequireAdmin())
		activity.GET("", h.GetActivity)
		activity.POST("/reset", h.ResetActivity)
		activity.POST("/sample", h.SampleNow)
		activity.POST("/prune", h.PruneActivity)
		activity.POST("/users/:name/rename", h.RenameActivityUser)
		activity.DELETE("/users/:name", h.DeleteActivityUser)
		activity.POST("/users/:name/init", h.InitActivityUser)

		users := api.Group("/users/:name", mw.RequireSelfOrAdmin("name"))
		users.GET("/session-info", h.SessionInfo)
		users.POST("/extend-session", h.ExtendSession)
		users.POST("/restart-server", h.RestartServer)
		users.DELETE("/manage-volumes", h.ManageVolumes)
	}

	return r
}

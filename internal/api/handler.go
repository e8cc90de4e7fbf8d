package api

import (
	"context"
	"sync"
	"time"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/activity"
	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/pool"
	"hub-activity-backend/internal/sampler"
	"hub-activity-backend/internal/stats"
	"hub-activity-backend/internal/tenant"
	"hub-activity-backend/internal/volumes"
)

// StatsSource returns live stats of a tenant's workload, or nil.
type StatsSource interface {
	Get(ctx context.Context, username string) *stats.Stats
}

// VolumeSource returns cached volume sizes keyed by encoded tenant name.
type VolumeSource interface {
	Get() map[string]volumes.Entry
}

// SampleRunner records one sample per tenant on demand.
type SampleRunner interface {
	SampleOnce(ctx context.Context) (sampler.Counts, error)
}

// Deps are the collaborators of the API handlers.
type Deps struct {
	Monitor   *activity.Monitor
	Sampler   SampleRunner
	Directory tenant.Directory
	State     tenant.StateStore
	Orch      docker.Orchestrator
	Pool      *pool.Pool
	Stats     StatsSource
	Volumes   VolumeSource
	Naming    docker.Naming
	Session   config.SessionConfig
	Suffixes  []string
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	monitor  *activity.Monitor
	sampler  SampleRunner
	dir      tenant.Directory
	state    tenant.StateStore
	orch     docker.Orchestrator
	pool     *pool.Pool
	stats    StatsSource
	volumes  VolumeSource
	naming   docker.Naming
	session  config.SessionConfig
	suffixes map[string]bool

	// stateMu serializes read-modify-write cycles on spawner state.
	stateMu sync.Mutex
	now     func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	suffixes := make(map[string]bool, len(d.Suffixes))
	for _, s := range d.Suffixes {
		suffixes[s] = true
	}
	return &Handler{
		monitor:  d.Monitor,
		sampler:  d.Sampler,
		dir:      d.Directory,
		state:    d.State,
		orch:     d.Orch,
		pool:     d.Pool,
		stats:    d.Stats,
		volumes:  d.Volumes,
		naming:   d.Naming,
		session:  d.Session,
		suffixes: suffixes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// timeRemaining is the idle time left before the culler stops a server:
// the base timeout plus granted extensions, minus the time since the last
// activity. Without a recorded activity the full allowance remains.
func timeRemaining(timeoutSeconds, extensionHours int, lastActivity *time.Time, now time.Time) int {
	effective := timeoutSeconds + extensionHours*3600
	if lastActivity == nil {
		return effective
	}
	elapsed := now.Sub(*lastActivity).Seconds()
	return max(0, int(float64(effective)-elapsed))
}

// Package stats fetches live CPU and memory usage of tenant workloads.
package stats

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/metrics"
	"hub-activity-backend/internal/pool"
)

const bytesPerMB = 1024 * 1024

// Stats is a live resource snapshot of one workload, rounded to one decimal.
type Stats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Compute derives percentages from a usage snapshot. CPU percent is the
// container's share of the host CPU delta scaled by the online CPU count;
// a non-positive delta on either counter yields 0.
func Compute(u *docker.Usage) Stats {
	var cpuPercent float64
	if u.CPUTotal > u.PreCPUTotal && u.SystemTotal > u.PreSystemTotal {
		cpuDelta := float64(u.CPUTotal - u.PreCPUTotal)
		systemDelta := float64(u.SystemTotal - u.PreSystemTotal)
		onlineCPUs := float64(u.OnlineCPUs)
		if onlineCPUs == 0 {
			onlineCPUs = 1
		}
		cpuPercent = cpuDelta / systemDelta * onlineCPUs * 100
	}

	var memPercent float64
	if u.MemoryLimit > 0 {
		memPercent = float64(u.MemoryUsage) / float64(u.MemoryLimit) * 100
	}

	return Stats{
		CPUPercent:    round1(cpuPercent),
		MemoryMB:      round1(float64(u.MemoryUsage) / bytesPerMB),
		MemoryPercent: round1(memPercent),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Fetcher reads workload stats on the orchestrator pool. Concurrent
// requests for the same tenant share one orchestrator call, and results
// are kept for a short TTL.
type Fetcher struct {
	orch   docker.Orchestrator
	pool   *pool.Pool
	naming docker.Naming
	group  singleflight.Group
	cache  *cache.Cache
}

// NewFetcher creates a fetcher. A zero ttl disables the result cache.
func NewFetcher(orch docker.Orchestrator, p *pool.Pool, naming docker.Naming, ttl time.Duration) *Fetcher {
	f := &Fetcher{
		orch:   orch,
		pool:   p,
		naming: naming,
	}
	if ttl > 0 {
		f.cache = cache.New(ttl, 2*ttl)
	}
	return f
}

// Get returns the tenant's live stats, or nil when the container cannot be
// read. Failures are logged and never returned.
func (f *Fetcher) Get(ctx context.Context, username string) *Stats {
	name := f.naming.Container(username)
	if f.cache != nil {
		if v, found := f.cache.Get(name); found {
			s := v.(Stats)
			return &s
		}
	}

	v, err, _ := f.group.Do(name, func() (any, error) {
		usage, err := pool.Submit(ctx, f.pool, func(ctx context.Context) (*docker.Usage, error) {
			return f.orch.ContainerUsage(ctx, name)
		})
		if err != nil {
			return nil, err
		}
		s := Compute(usage)
		if f.cache != nil {
			f.cache.SetDefault(name, s)
		}
		return s, nil
	})
	if err != nil {
		log.Printf("[Stats] Failed to read stats for %s: %v", username, err)
		metrics.StatsFetchFailures.Inc()
		return nil
	}

	s := v.(Stats)
	return &s
}

// Package sampler periodically records an activity sample for every tenant.
package sampler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/activity"
	"hub-activity-backend/internal/metrics"
	"hub-activity-backend/internal/tenant"
)

// PruneInterval is the minimum time between global retention sweeps.
const PruneInterval = 24 * time.Hour

// Counts classifies the tenants seen by one tick. Offline tenants have no
// running workload; inactive ones run but have not been used within the
// inactivity threshold.
type Counts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Offline  int `json:"offline"`
}

// Sampler records samples on a fixed interval. Ticks run detached from the
// timer; a scheduled tick that fires while the previous one is still
// running is skipped.
type Sampler struct {
	dir      tenant.Directory
	monitor  *activity.Monitor
	interval time.Duration
	now      func() time.Time

	ticking atomic.Bool
	ticks   sync.WaitGroup

	pruneMu   sync.Mutex
	lastPrune time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped sampler.
func New(dir tenant.Directory, monitor *activity.Monitor, cfg config.ActivityConfig) *Sampler {
	return &Sampler{
		dir:      dir,
		monitor:  monitor,
		interval: cfg.Interval(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins sampling. The first tick fires immediately so a restarted
// process resumes its schedule without waiting a full interval. Calling
// Start while running is a no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		log.Println("[ActivitySampler] Already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	log.Printf("[ActivitySampler] Started - sampling every %s", s.interval)
}

// Stop halts the schedule and waits for any in-flight tick to return.
func (s *Sampler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ticks.Wait()
	s.cancel = nil
	s.done = nil
	log.Println("[ActivitySampler] Stopped")
}

// Running reports whether the schedule is active.
func (s *Sampler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.spawnTick(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.spawnTick(ctx)
			timer.Reset(s.interval)
		}
	}
}

// spawnTick starts a tick in its own goroutine unless one is running.
func (s *Sampler) spawnTick(ctx context.Context) bool {
	if !s.ticking.CompareAndSwap(false, true) {
		log.Println("[ActivitySampler] Previous tick still running, skipping")
		metrics.SamplerTicks.WithLabelValues("skipped").Inc()
		return false
	}

	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer s.ticking.Store(false)
		s.tick(ctx)
	}()
	return true
}

func (s *Sampler) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.SamplerTickDuration.Observe(time.Since(start).Seconds()) }()

	if _, err := s.SampleOnce(ctx); err != nil {
		log.Printf("[ActivitySampler] Tick failed: %v", err)
		metrics.SamplerTicks.WithLabelValues("error").Inc()
		return
	}
	metrics.SamplerTicks.WithLabelValues("ok").Inc()
	s.maybePrune(ctx)
}

// maybePrune runs the global retention sweep on the first tick and then at
// most once per PruneInterval.
func (s *Sampler) maybePrune(ctx context.Context) {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	now := s.now()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < PruneInterval {
		return
	}
	s.lastPrune = now
	s.monitor.PruneOldSamples(ctx)
}

// SampleOnce records one sample for every tenant in the directory and
// returns the liveness classification. It only fails when the directory
// cannot be listed; a tenant whose sample cannot be stored is still counted.
func (s *Sampler) SampleOnce(ctx context.Context) (Counts, error) {
	tenants, err := s.dir.List(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to list tenants: %w", err)
	}

	now := s.now()
	var counts Counts
	for i := range tenants {
		t := &tenants[i]

		var lastActivity *time.Time
		if t.ServerActive() {
			lastActivity = t.WorkloadActivity()
		}
		s.monitor.RecordSample(ctx, t.Name, lastActivity)
		counts.Total++

		switch {
		case !t.ServerActive():
			counts.Offline++
		case s.monitor.IsActive(lastActivity, now):
			counts.Active++
		default:
			counts.Inactive++
		}
	}

	metrics.TenantsByState.WithLabelValues("active").Set(float64(counts.Active))
	metrics.TenantsByState.WithLabelValues("inactive").Set(float64(counts.Inactive))
	metrics.TenantsByState.WithLabelValues("offline").Set(float64(counts.Offline))

	s.monitor.LogActivityTick(ctx, counts.Total, counts.Active, counts.Inactive, counts.Offline)
	return counts, nil
}

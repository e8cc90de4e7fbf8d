// Package volumes keeps a freshness-bounded cache of per-tenant volume disk
// usage. Readers never wait for the orchestrator: they get the cached data
// and, when it is stale, kick off a background refresh.
package volumes

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/metrics"
	"hub-activity-backend/internal/pool"
)

const bytesPerMB = 1024 * 1024

// Entry is the disk usage of one tenant: the total and the size of each
// volume by suffix, in MB.
type Entry struct {
	TotalMB float64            `json:"total"`
	Volumes map[string]float64 `json:"volumes"`
}

// Cache holds volume sizes keyed by encoded tenant name. The whole cache is
// refreshed at once, and at most one refresh runs at a time.
type Cache struct {
	orch     docker.Orchestrator
	pool     *pool.Pool
	naming   docker.Naming
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	data    map[string]Entry
	updated time.Time

	refreshing atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an empty cache refreshed every interval.
func New(orch docker.Orchestrator, p *pool.Pool, naming docker.Naming, interval time.Duration) *Cache {
	log.Printf("[VolumeSizeRefresher] Initialized with interval=%s", interval)
	return &Cache{
		orch:     orch,
		pool:     p,
		naming:   naming,
		interval: interval,
		now:      time.Now,
		data:     map[string]Entry{},
	}
}

// Get returns the cached sizes immediately. When the cache has never been
// filled or is older than the refresh interval, a background refresh is
// started and its result becomes visible to later reads. The returned map
// is shared and must not be modified.
func (c *Cache) Get() map[string]Entry {
	c.mu.RLock()
	data, updated := c.data, c.updated
	c.mu.RUnlock()

	age := c.now().Sub(updated)
	if !updated.IsZero() {
		metrics.VolumeCacheAge.Set(age.Seconds())
	}
	if updated.IsZero() || age > c.interval {
		if c.triggerRefresh() {
			log.Println("[Volume Sizes] Cache stale, triggering background refresh")
		}
	}
	return data
}

// Lookup returns the entry of one encoded tenant name, or an empty entry.
func Lookup(data map[string]Entry, encoded string) Entry {
	if e, ok := data[encoded]; ok {
		return e
	}
	return Entry{Volumes: map[string]float64{}}
}

// Updated returns when the cache was last filled successfully.
func (c *Cache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// Refresh reloads the cache from the orchestrator and waits for it. It
// returns false without doing anything when another refresh is running,
// and false when the orchestrator call fails; a failure keeps the previous
// data.
func (c *Cache) Refresh(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		log.Println("[Volume Sizes] Refresh already in progress, skipping")
		metrics.VolumeRefreshes.WithLabelValues("skipped").Inc()
		return false
	}
	defer c.refreshing.Store(false)
	return c.refresh(ctx)
}

func (c *Cache) triggerRefresh() bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer c.refreshing.Store(false)
		c.refresh(context.Background())
	}()
	return true
}

func (c *Cache) refresh(ctx context.Context) bool {
	usage, err := pool.Submit(ctx, c.pool, c.orch.VolumeUsage)
	if err != nil {
		log.Printf("[Volume Sizes] Error fetching: %v. Keeping previous cache.", err)
		metrics.VolumeRefreshes.WithLabelValues("error").Inc()
		return false
	}

	data := c.group(usage)

	c.mu.Lock()
	c.data = data
	c.updated = c.now()
	c.mu.Unlock()

	var total float64
	for _, e := range data {
		total += e.TotalMB
	}
	log.Printf("[Volume Sizes] Cache updated: %d users, total %.1f MB", len(data), total)
	metrics.VolumeRefreshes.WithLabelValues("ok").Inc()
	metrics.VolumeCacheAge.Set(0)
	return true
}

// group sums tenant volumes into entries keyed by encoded tenant name.
// Volumes that do not follow the tenant naming scheme are ignored.
func (c *Cache) group(usage []docker.VolumeUsage) map[string]Entry {
	data := make(map[string]Entry)
	for _, vu := range usage {
		encoded, suffix, ok := c.naming.SplitVolume(vu.Name)
		if !ok {
			continue
		}
		mb := round1(float64(vu.SizeBytes) / bytesPerMB)

		e, found := data[encoded]
		if !found {
			e = Entry{Volumes: map[string]float64{}}
		}
		e.TotalMB += mb
		e.Volumes[suffix] = mb
		data[encoded] = e
	}
	for k, e := range data {
		e.TotalMB = round1(e.TotalMB)
		data[k] = e
	}
	return data
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Start launches the periodic refresher: one refresh right away, then one
// every interval. Calling Start while running is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		log.Println("[VolumeSizeRefresher] Already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	log.Printf("[VolumeSizeRefresher] Started - refreshing every %s", c.interval)
}

// Stop halts the periodic refresher and waits for it to exit.
func (c *Cache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	log.Println("[VolumeSizeRefresher] Stopped")
}

// Running reports whether the periodic refresher is active.
func (c *Cache) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

func (c *Cache) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.Refresh(ctx)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.Refresh(ctx)
			timer.Reset(c.interval)
		}
	}
}

// Package activity owns the activity sample store and is the single surface
// through which samples are recorded, scored and managed.
package activity

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/metrics"
	"hub-activity-backend/internal/model"
	"hub-activity-backend/internal/score"
	"hub-activity-backend/internal/store"
)

// Status strings returned by Monitor.Status when there is nothing to count.
const (
	StatusUnavailable = "Database not available"
	StatusNoSamples   = "No samples yet"
	StatusQueryFailed = "Status unavailable"
)

// Monitor records and scores activity samples. It never returns storage
// errors to its callers: every failure is logged and mapped to the
// operation's failure value.
type Monitor struct {
	store store.SampleStore
	cfg   config.ActivityConfig
	now   func() time.Time
}

// NewMonitor creates a monitor over the given store. A nil store means the
// activity database could not be opened; the monitor then degrades every
// operation to its failure value.
func NewMonitor(s store.SampleStore, cfg config.ActivityConfig) *Monitor {
	log.Printf("[ActivityMonitor] Config: retention=%dd, half_life=%dh, inactive_after=%dm, sample_interval=%ds",
		cfg.RetentionDays, cfg.HalfLifeHours, cfg.InactiveAfterMinutes, cfg.SampleIntervalSeconds)
	return &Monitor{
		store: s,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the resolved activity tunables.
func (m *Monitor) Config() config.ActivityConfig {
	return m.cfg
}

// InactiveAfter is the liveness threshold used to mark samples active.
func (m *Monitor) InactiveAfter() time.Duration {
	return m.cfg.InactiveAfter()
}

// DecayLambda is the per-hour decay constant derived from the half-life.
func (m *Monitor) DecayLambda() float64 {
	return score.DecayLambda(m.cfg.HalfLifeHours)
}

// IsActive reports whether lastActivity is recent enough, at now, for the
// tenant to count as active.
func (m *Monitor) IsActive(lastActivity *time.Time, now time.Time) bool {
	if lastActivity == nil {
		return false
	}
	return now.Sub(*lastActivity) <= m.cfg.InactiveAfter()
}

// RecordSample inserts one sample stamped now and prunes the tenant's
// samples past retention. It reports whether the sample was stored.
func (m *Monitor) RecordSample(ctx context.Context, username string, lastActivity *time.Time) bool {
	if m.store == nil {
		return false
	}

	now := m.now()
	sample := &model.ActivitySample{
		Username:  username,
		Timestamp: now,
		Active:    m.IsActive(lastActivity, now),
	}
	if lastActivity != nil {
		la := lastActivity.UTC()
		sample.LastActivity = &la
	}

	pruned, err := m.store.RecordSample(ctx, sample, now.Add(-m.cfg.Retention()))
	if err != nil {
		log.Printf("[ActivityMonitor] Error recording sample for %s: %v", username, err)
		metrics.SamplesRecorded.WithLabelValues("error").Inc()
		return false
	}
	metrics.SamplesRecorded.WithLabelValues("ok").Inc()
	if pruned > 0 {
		log.Printf("[ActivityMonitor] Pruned %d expired samples for %s", pruned, username)
	}
	return true
}

// Score returns the tenant's engagement score and the number of samples it
// was computed from. The score is nil when there are no samples.
func (m *Monitor) Score(ctx context.Context, username string) (*int, int) {
	if m.store == nil {
		return nil, 0
	}

	now := m.now()
	samples, err := m.store.SamplesSince(ctx, username, now.Add(-m.cfg.Retention()))
	if err != nil {
		log.Printf("[ActivityMonitor] Error calculating score for %s: %v", username, err)
		return nil, 0
	}
	return score.Compute(samples, now, m.cfg.HalfLifeHours, m.cfg.Retention())
}

// Status describes the sample store in one human readable line.
func (m *Monitor) Status(ctx context.Context) string {
	if m.store == nil {
		return StatusUnavailable
	}

	samples, users, err := m.store.Counts(ctx)
	if err != nil {
		log.Printf("[ActivityMonitor] Error getting status: %v", err)
		return StatusQueryFailed
	}
	if samples == 0 {
		return StatusNoSamples
	}
	return fmt.Sprintf("%d samples for %d users", samples, users)
}

// RenameUser moves every sample of oldName to newName. Renaming a tenant
// without samples succeeds.
func (m *Monitor) RenameUser(ctx context.Context, oldName, newName string) bool {
	if m.store == nil {
		return false
	}

	count, err := m.store.Rename(ctx, oldName, newName)
	if err != nil {
		log.Printf("[ActivityMonitor] Error renaming user: %v", err)
		return false
	}
	if count > 0 {
		log.Printf("[ActivityMonitor] Renamed %d samples: %s -> %s", count, oldName, newName)
	}
	return true
}

// DeleteUser removes every sample of the tenant.
func (m *Monitor) DeleteUser(ctx context.Context, username string) bool {
	if m.store == nil {
		return false
	}

	count, err := m.store.DeleteUser(ctx, username)
	if err != nil {
		log.Printf("[ActivityMonitor] Error deleting user: %v", err)
		return false
	}
	if count > 0 {
		log.Printf("[ActivityMonitor] Deleted %d samples for %s", count, username)
	}
	return true
}

// InitializeUser records an inactive sample so a new tenant is listed with
// a 0 score instead of no score.
func (m *Monitor) InitializeUser(ctx context.Context, username string) bool {
	return m.RecordSample(ctx, username, nil)
}

// ResetAll deletes every sample and returns how many were deleted.
func (m *Monitor) ResetAll(ctx context.Context) int64 {
	if m.store == nil {
		return 0
	}

	count, err := m.store.DeleteAll(ctx)
	if err != nil {
		log.Printf("[ActivityMonitor] Error resetting samples: %v", err)
		return 0
	}
	log.Printf("[ActivityMonitor] Reset: deleted %d samples", count)
	return count
}

// PruneOldSamples removes every sample past retention, for all tenants.
func (m *Monitor) PruneOldSamples(ctx context.Context) int64 {
	if m.store == nil {
		return 0
	}

	count, err := m.store.PruneBefore(ctx, m.now().Add(-m.cfg.Retention()))
	if err != nil {
		log.Printf("[ActivityMonitor] Error pruning samples: %v", err)
		return 0
	}
	if count > 0 {
		log.Printf("[ActivityMonitor] Pruned %d old samples", count)
	}
	return count
}

// BandCounts classifies every sampled tenant into an activity band.
func (m *Monitor) BandCounts(ctx context.Context) (map[score.Band]int, error) {
	if m.store == nil {
		return nil, store.ErrUnavailable
	}

	names, err := m.store.Usernames(ctx)
	if err != nil {
		return nil, err
	}

	levels := make(map[score.Band]int, len(score.Bands))
	for _, name := range names {
		s, _ := m.Score(ctx, name)
		levels[score.BandOf(s)]++
	}
	return levels, nil
}

// LogActivityTick emits the one-line summary of a sampler tick.
func (m *Monitor) LogActivityTick(ctx context.Context, collected, active, inactive, offline int) {
	levels, err := m.BandCounts(ctx)
	if err != nil {
		log.Printf("[ActivityMonitor] Error logging tick: %v", err)
		return
	}

	var parts []string
	for _, band := range score.Bands {
		if n := levels[band]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s(%d)", band, n))
		}
	}
	levelStr := "none"
	if len(parts) > 0 {
		levelStr = strings.Join(parts, ", ")
	}

	log.Printf("[ActivityMonitor] Tick: %d samples collected | Users: %d total (active=%d, inactive=%d, offline=%d) | Activity levels: %s",
		collected, active+inactive+offline, active, inactive, offline, levelStr)
}

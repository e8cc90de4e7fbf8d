// Package score computes the decayed engagement score of a tenant from its
// activity samples.
package score

import (
	"math"
	"time"

	"hub-activity-backend/internal/model"
)

// DecayLambda returns the per-hour decay constant for the given half-life.
func DecayLambda(halfLifeHours int) float64 {
	return math.Ln2 / float64(halfLifeHours)
}

// Compute returns the 0-100 engagement score and the number of samples that
// contributed to it. Samples older than retention relative to now are
// ignored even if the store still holds them. With no contributing samples
// the score is nil and the count is 0.
func Compute(samples []model.ActivitySample, now time.Time, halfLifeHours int, retention time.Duration) (*int, int) {
	lambda := DecayLambda(halfLifeHours)
	cutoff := now.Add(-retention)

	var weightedActive, weightedTotal float64
	count := 0
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		ageHours := now.Sub(s.Timestamp).Hours()
		weight := math.Exp(-lambda * ageHours)
		weightedTotal += weight
		if s.Active {
			weightedActive += weight
		}
		count++
	}

	if count == 0 {
		return nil, 0
	}

	result := 0
	if weightedTotal > 0 {
		result = int(math.Round(100 * weightedActive / weightedTotal))
	}
	return &result, count
}

// Band names the activity level a score falls into.
type Band string

const (
	BandNone     Band = "none"
	BandVeryLow  Band = "very-low"
	BandLow      Band = "low"
	BandNormal   Band = "normal"
	BandHigh     Band = "high"
	BandVeryHigh Band = "very-high"
)

// Bands lists every band from most to least active.
var Bands = []Band{BandVeryHigh, BandHigh, BandNormal, BandLow, BandVeryLow, BandNone}

// BandOf classifies a score. A missing score counts as none.
func BandOf(s *int) Band {
	switch {
	case s == nil || *s <= 0:
		return BandNone
	case *s >= 80:
		return BandVeryHigh
	case *s >= 60:
		return BandHigh
	case *s >= 40:
		return BandNormal
	case *s >= 20:
		return BandLow
	default:
		return BandVeryLow
	}
}

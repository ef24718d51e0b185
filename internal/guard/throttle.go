package guard

import "time"

// Throttle tiers map quota consumption to a poll-interval multiplier. The
// guard slows a source down progressively instead of hard-stopping it,
// until 95% consumption suspends polling for the rest of the window.
const (
	tierNone      = 0 // below 60%
	tierLight     = 1 // >= 60%
	tierModerate  = 2 // >= 75%
	tierHeavy     = 3 // >= 85%
	tierSuspended = 4 // >= 95%
)

var tierMultipliers = map[int]float64{
	tierNone:     1.0,
	tierLight:    1.5,
	tierModerate: 2.0,
	tierHeavy:    4.0,
}

// ThrottleTier classifies consumption against the window limit.
func ThrottleTier(consumed, limit int) int {
	if limit <= 0 {
		return tierNone
	}
	ratio := float64(consumed) / float64(limit)
	switch {
	case ratio >= 0.95:
		return tierSuspended
	case ratio >= 0.85:
		return tierHeavy
	case ratio >= 0.75:
		return tierModerate
	case ratio >= 0.60:
		return tierLight
	default:
		return tierNone
	}
}

// EffectiveInterval stretches a source's base poll interval according to
// its throttle tier. For a suspended source the caller should instead poll
// again at the next window boundary.
func EffectiveInterval(base time.Duration, tier int) time.Duration {
	mult, ok := tierMultipliers[tier]
	if !ok {
		mult = tierMultipliers[tierHeavy]
	}
	return time.Duration(float64(base) * mult)
}

// Suspended reports whether the tier blocks polling outright.
func Suspended(tier int) bool {
	return tier >= tierSuspended
}

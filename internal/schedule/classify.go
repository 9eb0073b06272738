// Package schedule implements the subscription expiration check: the
// daily scan over active users, urgency classification, message
// composition, and delivery through the transport gateway or the
// fallback recorder, with one audit record per attempt.
package schedule

import (
	"math"
	"time"
)

// Tier is the urgency bucket derived from days until renewal. It drives
// both message content and processing priority; it is never stored on
// the subscription itself.
type Tier string

const (
	TierExpired  Tier = "expired"
	TierCritical Tier = "critical"
	TierUrgent   Tier = "urgent"
	TierWarning  Tier = "warning"
	TierNormal   Tier = "normal"
)

// TierOrder is the processing priority within a run, most severe first.
var TierOrder = []Tier{TierExpired, TierCritical, TierUrgent, TierWarning}

// Classify maps days-until-expiration to an urgency tier. Total and
// side-effect free; TierNormal is never notified.
func Classify(days int) Tier {
	switch {
	case days <= 0:
		return TierExpired
	case days <= 1:
		return TierCritical
	case days <= 3:
		return TierUrgent
	case days <= 7:
		return TierWarning
	default:
		return TierNormal
	}
}

// DaysUntil returns the number of days from now until the renewal date,
// rounded up so a renewal later today still counts as one day away.
func DaysUntil(renewal, now time.Time) int {
	return int(math.Ceil(renewal.Sub(now).Hours() / 24))
}

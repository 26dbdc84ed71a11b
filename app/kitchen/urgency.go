package kitchen

import "time"

// Urgency is the display urgency of a ticket or table, derived from
// elapsed time on every render, never stored.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

const (
	warningThreshold  = 10 * time.Minute
	criticalThreshold = 20 * time.Minute
)

// Classify maps elapsed time to an urgency level: under 10 minutes is
// normal, 10 to 20 warning, 20 and beyond critical.
func Classify(elapsed time.Duration) Urgency {
	switch {
	case elapsed >= criticalThreshold:
		return UrgencyCritical
	case elapsed >= warningThreshold:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// ClassifyAt classifies the elapsed time between a reference start and
// now.
func ClassifyAt(start, now time.Time) Urgency {
	return Classify(now.Sub(start))
}

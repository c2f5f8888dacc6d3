package notifications

import (
	"time"
)

// DefaultDeferDelay is how far a quiet-hours copy is pushed into the future.
const DefaultDeferDelay = time.Hour

// InQuietHours reports whether now falls inside the user's quiet window,
// evaluated in the user's timezone. A window with equal bounds is empty.
// For overnight windows (start > end) the end minute itself is still quiet.
func InQuietHours(p Preferences, now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, ok := parseClock(p.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseClock(p.QuietHoursEnd)
	if !ok {
		return false
	}

	local := now.In(p.Location())
	t := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return false
	case start < end:
		return t >= start && t < end
	default:
		return t >= start || t <= end
	}
}

// IsSuppressed reports whether ch must be held back at now.
func IsSuppressed(p Preferences, ch Channel, now time.Time) bool {
	return ch.Interruptive() && InQuietHours(p, now)
}

// splitQuietHours partitions channels into those that may be attempted now
// and those deferred by quiet hours. Urgent notifications are never deferred.
func splitQuietHours(p Preferences, channels []Channel, priority Priority, now time.Time) (allowed, deferred []Channel) {
	if priority == PriorityUrgent || !InQuietHours(p, now) {
		return channels, nil
	}
	for _, ch := range channels {
		if ch.Interruptive() {
			deferred = append(deferred, ch)
		} else {
			allowed = append(allowed, ch)
		}
	}
	return allowed, deferred
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	if len(s) != 5 {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

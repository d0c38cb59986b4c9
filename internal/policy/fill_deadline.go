package policy

import (
	"errors"
	"time"
)

const (
	// DefaultFillSafetyMargin is the minimum time-to-deadline required before the
	// decision engine will consider a deposit safe to fill.
	DefaultFillSafetyMargin = 6 * time.Hour
)

var ErrInvalidConfig = errors.New("policy: invalid config")

// IsSafeToBroadcastFill returns true iff deadline is at least safetyMargin in the
// future of now. A zero or negative safetyMargin never clears the gate, since a
// misconfigured margin of zero would otherwise let every deposit through regardless
// of how close its deadline is.
func IsSafeToBroadcastFill(now time.Time, deadline time.Time, safetyMargin time.Duration) bool {
	if safetyMargin <= 0 {
		return false
	}
	return deadline.Sub(now) >= safetyMargin
}

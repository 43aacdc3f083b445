package coap

import "time"

// Clock is the monotonic clock the transaction engine measures timeouts
// against (spec.md §5, §9). Implementations need only be monotonic; wall
// time is not required.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by the runtime's monotonic
// time.Now reading.
type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time { return time.Now() }

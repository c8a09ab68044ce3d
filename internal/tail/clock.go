package tail

import "time"

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock reads the wall clock.
var DefaultClock Clock = realClock{}

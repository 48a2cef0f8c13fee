package alerting

import "time"

// Clock abstracts time for the engine so tests can drive cooldowns,
// fatigue windows and escalation deadlines deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock used outside of tests.
func SystemClock() Clock { return systemClock{} }

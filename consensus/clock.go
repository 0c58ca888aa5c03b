package consensus

import "time"

//go:generate mockgen -package mocks -destination mocks/clock.go . Clock

// Clock tells the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock used when none is given.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

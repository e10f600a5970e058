// Package clock provides a fake-able time source so tests can control
// deadlines, breaker cooldowns, and poll intervals deterministically.
package clock

import "time"

// Clock is the minimal time source that components whose timing tests control
// take, instead of calling time.Now()/time.After() directly. Not every
// suspending operation in CORTEX goes through it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Real) Sleep(d time.Duration)                   { time.Sleep(d) }

// New returns the production clock. Tests construct their own fake
// implementing Clock instead of calling this.
func New() Clock { return Real{} }

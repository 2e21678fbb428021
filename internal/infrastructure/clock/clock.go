package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time
type Clock interface {
	Now() time.Time
}

// Real reads the system clock
type Real struct{}

// New returns the system clock
func New() Clock {
	return Real{}
}

// Now implements Clock
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually advanced clock
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now implements Clock
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

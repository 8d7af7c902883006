package util

import (
	"context"
)

// A Gate limits concurrency. Every gate has a maximum number of goroutines to
// allow through at a time. Goroutines enter the gate by calling Enter(), and
// signal that they are done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks until there are less than n goroutines inside the gate or the
// context is done. It returns false in the latter case, and the caller must
// not call Leave.
func (g Gate) Enter(ctx context.Context) bool {
	select {
	case g <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Leave marks a goroutine outside the critical section. Each successful
// Enter must be balanced by exactly one Leave.
func (g Gate) Leave() {
	<-g
}

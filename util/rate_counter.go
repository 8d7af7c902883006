package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter keeps a byte count under a limit per second, so a dump does
// not starve the rest of a running device of disk bandwidth.
//
// Every interval a background goroutine adds a second's worth of credits to
// the pool. Readers take credits out as they read. While the pool is
// negative, Wait blocks.
type RateCounter struct {
	c       chan struct{} // receives while credits is positive
	stop    chan struct{} // close to signal adder goroutine to exit
	m       sync.Mutex    // protects below
	credits int64         // current credit balance
}

// Interval between adding credits to the pool.
const rateInterval = time.Second

// ErrStopped means a read failed because the governing rate counter was stopped.
var ErrStopped = errors.New("rate counter stopped")

// NewRateCounter returns a counter allowing about rate units per second.
// The first second's worth is available at once.
func NewRateCounter(rate int64) *RateCounter {
	amount := int64(float64(rate) * rateInterval.Seconds())
	if amount < 1 {
		amount = 1
	}
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// Wait blocks until the counter has credits. It returns ErrStopped if the
// counter is stopped.
func (r *RateCounter) Wait() error {
	if _, ok := <-r.c; !ok {
		return ErrStopped
	}
	return nil
}

// Stop the background goroutine refilling the RateCounter. Any waiters
// are released with ErrStopped. Will panic if called twice.
func (r *RateCounter) Stop() {
	close(r.stop)
}

func (r *RateCounter) adder(amount int64) {
	tick := time.NewTicker(rateInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.m.Lock()
			r.credits += amount
			// no more than one interval of credit is banked
			if r.credits > amount {
				r.credits = amount
			}
			r.m.Unlock()
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. It is okay for more than one goroutine to use the same
// RateCounter.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	if err := r.rate.Wait(); err != nil {
		return 0, err
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}

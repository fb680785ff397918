package queue

import (
	"runtime"
	"time"
)

// Waiter is the idle strategy of a ring consumer: a few busy retries, then
// yielding the processor, then sleeping with a doubling duration up to
// MaxSleep. Reset must be called whenever work was found.
type Waiter struct {
	Spins    int
	Yields   int
	MinSleep time.Duration
	MaxSleep time.Duration

	idle  int
	sleep time.Duration
	timer *time.Timer
}

// NewWaiter returns a Waiter with the default strategy.
func NewWaiter() *Waiter {
	return &Waiter{
		Spins:    64,
		Yields:   64,
		MinSleep: 100 * time.Microsecond,
		MaxSleep: 10 * time.Millisecond,
	}
}

// Reset returns the waiter to its most responsive state.
func (w *Waiter) Reset() {
	w.idle = 0
	w.sleep = 0
}

// Idle waits a little before the next poll. It returns early when wake
// receives a value or is closed, and reports whether it was woken that way.
func (w *Waiter) Idle(wake <-chan struct{}) bool {
	w.idle++
	switch {
	case w.idle <= w.Spins:
		select {
		case <-wake:
			w.Reset()
			return true
		default:
			return false
		}
	case w.idle <= w.Spins+w.Yields:
		runtime.Gosched()
		select {
		case <-wake:
			w.Reset()
			return true
		default:
			return false
		}
	}

	if w.sleep == 0 {
		w.sleep = w.MinSleep
	} else if w.sleep < w.MaxSleep {
		w.sleep *= 2
		if w.sleep > w.MaxSleep {
			w.sleep = w.MaxSleep
		}
	}
	if w.timer == nil {
		w.timer = time.NewTimer(w.sleep)
	} else {
		w.timer.Reset(w.sleep)
	}
	select {
	case <-wake:
		w.timer.Stop()
		w.Reset()
		return true
	case <-w.timer.C:
		return false
	}
}

// Stop releases the waiter's timer.
func (w *Waiter) Stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Package scheduler holds the timing primitives the pipeline uses to coalesce
// bursts of work.
package scheduler

import (
	"sync"
	"time"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

// Debouncer coalesces a burst of triggers into a single call that runs once
// the burst has been quiet for the configured delay. Only the function passed
// to the last Trigger runs.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration

	mu      sync.Mutex
	timer   clock.Timer
	seq     uint64
	pending bool
}

// NewDebouncer creates a debouncer. A non-positive delay still defers the call
// through the clock rather than running it inline.
func NewDebouncer(c clock.Clock, delay time.Duration) *Debouncer {
	if c == nil {
		c = clock.Real{}
	}
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{clock: c, delay: delay}
}

// Trigger schedules fn, cancelling any call that has not started yet
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.pending = true
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A real timer may already be running when Stop is called
		if seq != d.seq {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()

		fn()
	})
}

// Cancel drops the scheduled call, if any. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasPending := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
	return wasPending
}

// Pending reports whether a call is waiting for its quiet period
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Package clock abstracts time so debouncing, TTL expiry and simulated
// latency can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock interface for time operations (supports testing)
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call
type Timer interface {
	// Stop prevents the call from firing. It reports false if the call has
	// already fired or been stopped.
	Stop() bool
}

// Real implements Clock using actual system time
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Mock implements Clock for testing. Time only moves on Advance, and timers
// that come due fire synchronously inside Advance in deadline order.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
	seq    int
}

// NewMock returns a Mock frozen at start
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &mockTimer{mock: m, deadline: m.now.Add(d), fn: f, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer whose deadline is
// reached. Timers scheduled by a firing callback are honored when they fall
// inside the same window.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.deadline
		m.remove(next)
		m.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Mock) nextDue(target time.Time) *mockTimer {
	due := make([]*mockTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (m *Mock) remove(t *mockTimer) bool {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type mockTimer struct {
	mock     *Mock
	deadline time.Time
	fn       func()
	seq      int
}

func (t *mockTimer) Stop() bool {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	return t.mock.remove(t)
}

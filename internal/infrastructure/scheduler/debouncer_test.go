package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

func TestDebouncer_BurstRunsOnlyLastCall(t *testing.T) {
	c := clock.NewMock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	d := NewDebouncer(c, 300*time.Millisecond)

	var calls []int
	for i := 1; i <= 5; i++ {
		i := i
		d.Trigger(func() { calls = append(calls, i) })
		c.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, calls)
	assert.True(t, d.Pending())

	c.Advance(200 * time.Millisecond)
	assert.Equal(t, []int{5}, calls)
	assert.False(t, d.Pending())
	assert.Zero(t, c.Pending())
}

func TestDebouncer_SeparatedTriggersBothRun(t *testing.T) {
	c := clock.NewMock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	d := NewDebouncer(c, 300*time.Millisecond)

	count := 0
	d.Trigger(func() { count++ })
	c.Advance(300 * time.Millisecond)
	d.Trigger(func() { count++ })
	c.Advance(300 * time.Millisecond)

	assert.Equal(t, 2, count)
}

func TestDebouncer_Cancel(t *testing.T) {
	c := clock.NewMock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	d := NewDebouncer(c, 300*time.Millisecond)

	fired := false
	d.Trigger(func() { fired = true })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	c.Advance(time.Second)
	assert.False(t, fired)
}

func TestDebouncer_RealClock(t *testing.T) {
	d := NewDebouncer(nil, 10*time.Millisecond)

	var count atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		d.Trigger(func() {
			count.Add(1)
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "debounced call did not run")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

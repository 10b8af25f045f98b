package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestMock_AdvanceFiresDueTimersInOrder(t *testing.T) {
	m := NewMock(epoch)
	var fired []string

	m.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "b") })
	m.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	m.AfterFunc(time.Second, func() { fired = append(fired, "c") })

	m.Advance(299 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, epoch.Add(299*time.Millisecond), m.Now())

	m.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, m.Pending())
}

func TestMock_StoppedTimerNeverFires(t *testing.T) {
	m := NewMock(epoch)
	fired := false

	timer := m.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestMock_CallbackSeesDeadlineTime(t *testing.T) {
	m := NewMock(epoch)
	var seen time.Time

	m.AfterFunc(250*time.Millisecond, func() { seen = m.Now() })
	m.Advance(time.Second)

	assert.Equal(t, epoch.Add(250*time.Millisecond), seen)
	assert.Equal(t, epoch.Add(time.Second), m.Now())
}

func TestMock_NestedTimerWithinWindow(t *testing.T) {
	m := NewMock(epoch)
	count := 0

	m.AfterFunc(100*time.Millisecond, func() {
		count++
		m.AfterFunc(100*time.Millisecond, func() { count++ })
	})

	m.Advance(200 * time.Millisecond)
	assert.Equal(t, 2, count)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

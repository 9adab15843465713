package board

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestTimersOnePerOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timers := NewTimers(clock)
	defer timers.StopAll()

	var stale, fresh atomic.Int32
	first := timers.Start(1, func(gen uint64) { stale.Add(1) })
	second := timers.Start(1, func(gen uint64) { fresh.Add(1) })

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, timers.Len())
	assert.False(t, timers.Current(1, first))
	assert.True(t, timers.Current(1, second))

	clock.Advance(TickInterval)
	assert.Eventually(t, func() bool { return fresh.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), stale.Load())
}

func TestTimersStop(t *testing.T) {
	timers := NewTimers(clockwork.NewFakeClock())

	timers.Start(1, func(uint64) {})
	timers.Start(2, func(uint64) {})

	assert.True(t, timers.Stop(1))
	assert.False(t, timers.Stop(1))
	assert.False(t, timers.Active(1))
	assert.True(t, timers.Active(2))

	timers.StopAll()
	assert.Equal(t, 0, timers.Len())
}

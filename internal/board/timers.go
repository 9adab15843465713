package board

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval is how often a countdown label refreshes
const TickInterval = time.Second

// Timers is the countdown registry. It holds at most one ticking timer per order ID;
// starting a timer for an ID always cancels the previous one first.
type Timers struct {
	clock clockwork.Clock

	mu     sync.Mutex
	gen    uint64
	active map[int64]*countdown
}

type countdown struct {
	gen  uint64
	stop chan struct{}
}

// NewTimers creates an empty registry
func NewTimers(clock clockwork.Clock) *Timers {
	return &Timers{
		clock:  clock,
		active: make(map[int64]*countdown),
	}
}

// Start begins ticking for id and returns the timer's generation.
// onTick receives that generation so stale ticks can be told apart.
func (t *Timers) Start(id int64, onTick func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked(id)

	t.gen++
	cd := &countdown{gen: t.gen, stop: make(chan struct{})}
	t.active[id] = cd

	ticker := t.clock.NewTicker(TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-cd.stop:
				return
			case <-ticker.Chan():
				select {
				case <-cd.stop:
					return
				default:
				}
				onTick(cd.gen)
			}
		}
	}()

	return cd.gen
}

// Current reports whether gen is still the live timer for id
func (t *Timers) Current(id int64, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, ok := t.active[id]
	return ok && cd.gen == gen
}

// Active reports whether id has a ticking timer
func (t *Timers) Active(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// Stop cancels the timer for id. It reports whether one was running.
func (t *Timers) Stop(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(id)
}

// StopAll cancels every timer
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.active {
		t.stopLocked(id)
	}
}

// Len returns the number of ticking timers
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Timers) stopLocked(id int64) bool {
	cd, ok := t.active[id]
	if !ok {
		return false
	}
	close(cd.stop)
	delete(t.active, id)
	return true
}

// FormatElapsed renders a duration as mm:ss. Negative durations read 00:00.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

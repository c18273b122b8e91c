package fibaro

import (
	"sync"
	"time"
)

// Timer slot names. Each delayed transition owns exactly one slot;
// re-arming a slot replaces whatever was pending in it.
const (
	timerInitialFetch   = "initial_fetch"
	timerRefreshStart   = "refresh_start"
	timerCommandRedial  = "command_redial"
	timerRefreshRedial  = "refresh_redial"
	timerRefreshRestart = "refresh_restart"
	timerPollTimeout    = "poll_timeout"
	timerPollRearm      = "poll_rearm"
)

// timerSet holds the bridge's named timer slots.
//
// Arm stops any previous timer in the slot before starting the new one,
// so a slot never has two pending callbacks.
type timerSet struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers: make(map[string]*time.Timer),
	}
}

// arm schedules fn to run after d, replacing any pending timer in the slot.
func (t *timerSet) arm(name string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if prev, ok := t.timers[name]; ok {
		prev.Stop()
	}
	t.timers[name] = time.AfterFunc(d, fn)
}

// stop cancels the pending timer in a slot, if any.
func (t *timerSet) stop(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.timers[name]; ok {
		prev.Stop()
		delete(t.timers, name)
	}
}

// stopAll cancels every pending timer and refuses further arming.
// Used at shutdown.
func (t *timerSet) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}

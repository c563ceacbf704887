package presence

import (
	"sync"
	"time"
)

// TickInterval is the cadence of a session [Timer].
const TickInterval = time.Second

// Timer drives the elapsed-time display for one activity. It ticks only while
// the activity is active: [Timer.Sync] arms a fresh ticker on Inactive→Active
// and cancels it on Active→Inactive. Every tick recomputes [Elapsed] from the
// session start, so a late or skipped tick never accumulates drift.
type Timer struct {
	interval time.Duration
	onTick   func(elapsed int64)
	now      func() time.Time

	mu    sync.Mutex
	start time.Time
	stop  chan struct{}
}

// NewTimer creates a stopped timer that calls onTick with the elapsed seconds
// every interval. A zero interval uses [TickInterval]. onTick runs on the
// timer's own goroutine.
func NewTimer(interval time.Duration, onTick func(elapsed int64)) *Timer {
	if interval <= 0 {
		interval = TickInterval
	}
	return &Timer{interval: interval, onTick: onTick, now: time.Now}
}

// Sync aligns the timer with s. An active state with a new session start
// restarts the cadence from scratch; an inactive state cancels it.
func (t *Timer) Sync(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.IsActive || s.SessionStartedAt.IsZero() {
		t.cancelLocked()
		return
	}
	if t.stop != nil && t.start.Equal(s.SessionStartedAt) {
		return
	}
	t.cancelLocked()
	t.start = s.SessionStartedAt
	t.stop = make(chan struct{})
	go t.run(s, t.stop)
}

// Stop cancels the cadence. It does not wait for an in-flight onTick.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Running reports whether the timer is currently ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) cancelLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.start = time.Time{}
}

func (t *Timer) run(s State, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if t.onTick != nil {
				t.onTick(Elapsed(s, t.now()))
			}
		}
	}
}

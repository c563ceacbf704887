package poller

import (
	"sync"
	"time"
)

// Scheduler keeps at most one pending timer per id. Arming an id cancels
// whatever was pending for it first, so a source can never have two polls
// queued at once.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*pending
	gen     uint64
	stopped bool
}

// pending is one armed timer. gen distinguishes it from a later timer for
// the same id whose callback may race a Stop that lost.
type pending struct {
	timer *time.Timer
	gen   uint64
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*pending)}
}

// ScheduleNext cancels any pending timer for id and arms fn to run after
// delay. It is a no-op once the scheduler is stopped.
func (s *Scheduler) ScheduleNext(id string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked(id)

	s.gen++
	p := &pending{gen: s.gen}
	gen := p.gen
	p.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.timers[id]
		if !ok || cur.gen != gen || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.timers[id] = p
}

// Cancel drops the pending timer for id, if any.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

// Stop cancels every pending timer and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id := range s.timers {
		s.cancelLocked(id)
	}
}

// Pending reports how many timers are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) cancelLocked(id string) {
	if p, ok := s.timers[id]; ok {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

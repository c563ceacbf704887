// Package poller runs every configured source on its own adaptive schedule
// and delivers the resulting snapshots on a single channel.
//
// Each source has exactly one pending timer in the [Scheduler] and at most
// one poll in flight, so a slow or hung source never delays another and never
// overlaps itself. The poller never touches presence state; the consumer of
// [Poller.Snapshots] owns that.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tools.zach/dev/livestatus/internal/metrics"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/source"
)

// entry is the per-source bookkeeping.
type entry struct {
	src      source.Source
	history  History
	inflight bool
}

// Poller schedules polls for a fixed set of sources.
type Poller struct {
	sched   *Scheduler
	out     chan presence.Snapshot
	metrics *metrics.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	policy  Policy
	entries map[string]*entry
	order   []string
}

// New creates a stopped poller for sources. m may be nil.
func New(sources []source.Source, policy Policy, m *metrics.Metrics) *Poller {
	p := &Poller{
		sched:   NewScheduler(),
		out:     make(chan presence.Snapshot, 2*len(sources)+1),
		metrics: m,
		log:     slog.Default().With("component", "poller"),
		policy:  policy,
		entries: make(map[string]*entry, len(sources)),
	}
	for _, src := range sources {
		p.entries[src.ID()] = &entry{src: src}
		p.order = append(p.order, src.ID())
	}
	return p
}

// Snapshots is the stream of completed polls, in completion order.
func (p *Poller) Snapshots() <-chan presence.Snapshot { return p.out }

// Start polls every source immediately and keeps them on schedule until ctx
// is cancelled or [Poller.Stop] is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()
	p.TriggerAll()
}

// TriggerAll replaces every pending timer with an immediate poll. Sources
// with a poll in flight are left alone; they reschedule when it completes.
func (p *Poller) TriggerAll() {
	for _, id := range p.order {
		p.schedule(id, 0)
	}
}

// SetPolicy swaps the policy used for future delays.
func (p *Poller) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// History returns a copy of a source's polling history.
func (p *Poller) History(id string) (History, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return History{}, false
	}
	return e.history, true
}

// Stop cancels every pending timer and in-flight request and waits for
// running polls to return.
func (p *Poller) Stop() {
	p.sched.Stop()
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) schedule(id string, delay time.Duration) {
	p.sched.ScheduleNext(id, delay, func() { p.poll(id) })
}

// poll runs one fetch for id and arms the next one.
func (p *Poller) poll(id string) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok || e.inflight || p.ctx == nil || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	e.inflight = true
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	started := time.Now()
	snap := e.src.Fetch(p.ctx)
	took := time.Since(started)

	p.mu.Lock()
	e.inflight = false
	delay := p.policy.Next(&e.history, snap)
	p.mu.Unlock()

	outcome := source.Outcome(snap.FetchError)
	p.metrics.ObservePoll(id, outcome, took, delay)
	p.logResult(id, snap, outcome, took, delay)

	select {
	case p.out <- snap:
	case <-p.ctx.Done():
		return
	}
	p.schedule(id, delay)
}

// logResult logs expected failures quietly and unexpected ones loudly.
func (p *Poller) logResult(id string, snap presence.Snapshot, outcome string, took, next time.Duration) {
	switch {
	case snap.FetchError == nil:
		p.log.Debug("poll ok",
			"source", id,
			"active", snap.IsEntityActive,
			"took", took.Round(time.Millisecond),
			"next", next,
		)
	case source.Expected(snap.FetchError):
		p.log.Debug("poll failed", "source", id, "outcome", outcome, "next", next, "error", snap.FetchError)
	default:
		p.log.Warn("poll failed", "source", id, "outcome", outcome, "next", next, "error", snap.FetchError)
	}
}

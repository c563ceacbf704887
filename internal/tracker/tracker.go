// Package tracker owns the reconciled presence states.
//
// A [Tracker] is driven from a single goroutine (the daemon's main loop):
// snapshots go in through [Tracker.Apply], the clock through [Tracker.Sweep].
// After every change it rebuilds the [View], stores it for concurrent readers,
// and hands it to each [Sink] when its hash differs from the last one
// published. Session timers run on their own goroutines and only report ticks.
package tracker

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"tools.zach/dev/livestatus/internal/metrics"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/source"
)

// Sink receives every distinct view.
type Sink interface {
	Publish(View)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(View)

// Publish implements [Sink].
func (f SinkFunc) Publish(v View) { f(v) }

// Options configures a Tracker.
type Options struct {
	Reconciler *presence.Reconciler
	Metrics    *metrics.Metrics
	// OnTick receives session timer ticks from timer goroutines.
	OnTick func(Tick)
	// TickInterval overrides [presence.TickInterval].
	TickInterval time.Duration
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Tracker holds one [presence.State] per activity.
type Tracker struct {
	rec     *presence.Reconciler
	metrics *metrics.Metrics
	onTick  func(Tick)
	tickDur time.Duration
	now     func() time.Time
	log     *slog.Logger

	states map[string]presence.State
	online presence.State
	timers map[string]*presence.Timer
	today  *TodayView
	sinks  []Sink

	lastHash string
	current  atomic.Pointer[View]
}

// New creates a tracker with inactive coding and music states.
func New(opts Options) *Tracker {
	t := &Tracker{
		rec:     opts.Reconciler,
		metrics: opts.Metrics,
		onTick:  opts.OnTick,
		tickDur: opts.TickInterval,
		now:     opts.Now,
		log:     slog.Default().With("component", "tracker"),
		states:  make(map[string]presence.State),
		timers:  make(map[string]*presence.Timer),
	}
	if t.rec == nil {
		t.rec = &presence.Reconciler{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	for _, a := range []string{presence.ActivityCoding, presence.ActivityMusic} {
		t.states[a] = presence.State{Activity: a}
	}
	t.refresh(t.now())
	return t
}

// AddSink registers s and immediately publishes the current view to it.
func (t *Tracker) AddSink(s Sink) {
	t.sinks = append(t.sinks, s)
	if v := t.current.Load(); v != nil {
		s.Publish(*v)
	}
}

// Apply folds one snapshot into its activity's state.
func (t *Tracker) Apply(snap presence.Snapshot) {
	now := t.now()
	activity := snap.Activity
	if activity == "" || activity == presence.ActivityOnline {
		t.log.Warn("dropping snapshot with unusable activity", "source", snap.SourceID, "activity", activity)
		return
	}
	prev, ok := t.states[activity]
	if !ok {
		prev = presence.State{Activity: activity}
	}
	next := t.rec.Reconcile(prev, snap, now)
	t.states[activity] = next
	t.logTransition(prev, next, snap.SourceID)
	t.refresh(now)
}

// Sweep ends sessions that went stale without any poll completing.
func (t *Tracker) Sweep() {
	now := t.now()
	for a, prev := range t.states {
		next := t.rec.Sweep(prev, now)
		t.states[a] = next
		t.logTransition(prev, next, "")
	}
	t.refresh(now)
}

// SetDaily records today's coding total.
func (t *Tracker) SetDaily(res source.DailyResult) {
	t.today = &TodayView{
		Date:    res.Date,
		Seconds: int64(res.Total / time.Second),
		Total:   presence.FormatDuration(res.Total),
		Cached:  res.Cached,
	}
	t.refresh(t.now())
}

// SetSettings replaces the per-activity thresholds. The next Apply or Sweep
// uses them.
func (t *Tracker) SetSettings(settings map[string]presence.Settings) {
	t.rec.Settings = settings
}

// State returns the current state of activity.
func (t *Tracker) State(activity string) presence.State {
	return t.states[activity]
}

// Current returns the latest view. Safe for concurrent use.
func (t *Tracker) Current() View {
	if v := t.current.Load(); v != nil {
		return *v
	}
	return View{}
}

// Stop cancels every session timer.
func (t *Tracker) Stop() {
	for _, tm := range t.timers {
		tm.Stop()
	}
}

// ///////////////////////////////////////////////
// Internals
// ///////////////////////////////////////////////

// refresh syncs timers, rebuilds the view and publishes it if it changed.
func (t *Tracker) refresh(now time.Time) {
	names := make([]string, 0, len(t.states))
	all := make([]presence.State, 0, len(t.states))
	for a := range t.states {
		names = append(names, a)
	}
	sort.Strings(names)
	for _, a := range names {
		all = append(all, t.states[a])
	}
	online := presence.Combine(t.online, all...)
	t.online = online

	v := &View{
		Activities:  make(map[string]ActivityView, len(t.states)+1),
		Today:       t.today,
		GeneratedAt: now,
	}
	for _, s := range append(all, online) {
		t.timer(s.Activity).Sync(s)
		av := activityView(s, now)
		v.Activities[s.Activity] = av
		t.metrics.SetPresence(s.Activity, av.Active, av.ElapsedSeconds)
	}

	h := presence.Describe(t.states[presence.ActivityCoding], t.states[presence.ActivityMusic], now)
	v.Online = online.IsActive
	v.Status = h.Status
	v.Tooltip = h.Tooltip

	t.current.Store(v)

	hash := v.Hash()
	if hash == t.lastHash {
		return
	}
	t.lastHash = hash
	t.metrics.ViewPublished()
	for _, s := range t.sinks {
		s.Publish(*v)
	}
}

// timer returns the session timer for activity, creating it on first use.
func (t *Tracker) timer(activity string) *presence.Timer {
	if tm, ok := t.timers[activity]; ok {
		return tm
	}
	tm := presence.NewTimer(t.tickDur, func(elapsed int64) {
		if t.onTick != nil {
			t.onTick(Tick{Activity: activity, ElapsedSeconds: elapsed, Elapsed: presence.FormatElapsed(elapsed)})
		}
	})
	t.timers[activity] = tm
	return tm
}

func (t *Tracker) logTransition(prev, next presence.State, sourceID string) {
	switch {
	case !prev.IsActive && next.IsActive:
		t.log.Info("session started",
			"activity", next.Activity,
			"started_at", next.SessionStartedAt,
			"label", next.Label,
			"source", sourceID,
		)
	case prev.IsActive && !next.IsActive:
		t.log.Info("session ended",
			"activity", next.Activity,
			"last_event_at", next.LastKnownEventAt,
			"source", sourceID,
		)
	}
}

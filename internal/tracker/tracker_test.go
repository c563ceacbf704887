package tracker

import (
	"encoding/json"
	"testing"
	"time"

	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/source"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// clock is a settable test clock.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTracker(t *testing.T, c *clock) (*Tracker, *[]View) {
	t.Helper()
	tr := New(Options{
		Reconciler:   &presence.Reconciler{Store: presence.NewMemoryStore()},
		TickInterval: time.Hour,
		Now:          c.Now,
	})
	t.Cleanup(tr.Stop)

	var published []View
	tr.AddSink(SinkFunc(func(v View) { published = append(published, v) }))
	return tr, &published
}

func coding(at time.Time) presence.Snapshot {
	return presence.Snapshot{SourceID: "wakatime", Activity: presence.ActivityCoding, LastEventAt: at, IsEntityActive: true, Label: "VS Code", FetchedAt: at}
}

func music(at time.Time, playing bool) presence.Snapshot {
	return presence.Snapshot{SourceID: "spotify", Activity: presence.ActivityMusic, LastEventAt: at, IsEntityActive: playing, Label: "Teardrop", Detail: "Massive Attack", FetchedAt: at}
}

// ///////////////////////////////////////////////
// Tracker Tests
// ///////////////////////////////////////////////

func TestTrackerInitialView(t *testing.T) {
	c := &clock{now: t0}
	_, published := newTracker(t, c)

	if len(*published) != 1 {
		t.Fatalf("published %d views on AddSink, want 1", len(*published))
	}
	v := (*published)[0]
	if v.Online || v.Status != presence.StatusOffline || v.Tooltip != presence.NoActivityText {
		t.Errorf("initial view = %+v", v)
	}
	for _, a := range []string{presence.ActivityCoding, presence.ActivityMusic, presence.ActivityOnline} {
		if _, ok := v.Activities[a]; !ok {
			t.Errorf("view missing activity %q", a)
		}
	}
}

func TestTrackerOnlineKeepsEarliestStart(t *testing.T) {
	c := &clock{now: t0}
	tr, _ := newTracker(t, c)

	tr.Apply(coding(t0))
	c.now = t0.Add(2 * time.Minute)
	tr.Apply(coding(c.now))
	tr.Apply(music(c.now, true))

	v := tr.Current()
	if !v.Online || v.Status != presence.StatusListening {
		t.Errorf("Online/Status = %v/%q", v.Online, v.Status)
	}
	if v.Tooltip != "Listening to Teardrop by Massive Attack" {
		t.Errorf("Tooltip = %q", v.Tooltip)
	}
	online := v.Activities[presence.ActivityOnline]
	if online.StartedAt == nil || !online.StartedAt.Equal(t0) {
		t.Errorf("online StartedAt = %v, want %v", online.StartedAt, t0)
	}
	if online.ElapsedSeconds != 120 || online.Elapsed != "2m 0s" {
		t.Errorf("online elapsed = %d %q", online.ElapsedSeconds, online.Elapsed)
	}
	m := v.Activities[presence.ActivityMusic]
	if m.StartedAt == nil || !m.StartedAt.Equal(c.now) {
		t.Errorf("music StartedAt = %v, want %v", m.StartedAt, c.now)
	}
}

func TestTrackerDedup(t *testing.T) {
	c := &clock{now: t0}
	tr, published := newTracker(t, c)

	tr.Apply(coding(t0))
	n := len(*published)

	// Same session, same labels: only elapsed time moved.
	c.now = t0.Add(10 * time.Second)
	tr.Apply(coding(t0))
	if len(*published) != n {
		t.Errorf("published %d views, want %d (dedup)", len(*published), n)
	}
	if got := tr.Current().Activities[presence.ActivityCoding].ElapsedSeconds; got != 10 {
		t.Errorf("current elapsed = %d, want 10", got)
	}
}

func TestTrackerSweepEndsStaleSession(t *testing.T) {
	c := &clock{now: t0}
	tr, published := newTracker(t, c)

	tr.Apply(coding(t0))
	if !tr.State(presence.ActivityCoding).IsActive {
		t.Fatal("coding not active after fresh heartbeat")
	}
	if !tr.timers[presence.ActivityCoding].Running() {
		t.Error("coding timer not running")
	}

	c.now = t0.Add(6 * time.Minute)
	tr.Sweep()

	if tr.State(presence.ActivityCoding).IsActive {
		t.Error("coding still active after sweep")
	}
	if tr.timers[presence.ActivityCoding].Running() {
		t.Error("coding timer still running")
	}
	last := (*published)[len(*published)-1]
	if last.Online || last.Tooltip != "Last seen coding in VS Code, 6 minutes ago" {
		t.Errorf("last view = online %v tooltip %q", last.Online, last.Tooltip)
	}
}

func TestTrackerDropsSnapshotWithoutActivity(t *testing.T) {
	c := &clock{now: t0}
	tr, published := newTracker(t, c)

	tr.Apply(presence.Snapshot{SourceID: "x", LastEventAt: t0, FetchedAt: t0})
	tr.Apply(presence.Snapshot{SourceID: "x", Activity: presence.ActivityOnline, LastEventAt: t0, IsEntityActive: true, FetchedAt: t0})
	if len(*published) != 1 {
		t.Errorf("published %d views, want 1", len(*published))
	}
	if tr.Current().Online {
		t.Error("snapshot for the derived online state was applied")
	}
}

func TestTrackerOnlineSurvivesHandoff(t *testing.T) {
	c := &clock{now: t0}
	tr, _ := newTracker(t, c)

	// Coding 09:00-10:00, music from 09:50 on, sweeping every minute.
	for m := 0; m <= 70; m++ {
		c.now = t0.Add(time.Duration(m) * time.Minute)
		if m <= 60 {
			tr.Apply(coding(c.now))
		}
		if m >= 50 {
			tr.Apply(music(c.now, true))
		}
		tr.Sweep()

		online := tr.Current().Activities[presence.ActivityOnline]
		if !online.Active || online.StartedAt == nil || !online.StartedAt.Equal(t0) {
			t.Fatalf("at +%dm online = %+v, want active since %v", m, online, t0)
		}
	}

	if tr.State(presence.ActivityCoding).IsActive {
		t.Fatal("coding session still active after going stale")
	}
	online := tr.Current().Activities[presence.ActivityOnline]
	if online.ElapsedSeconds != 70*60 {
		t.Errorf("online elapsed = %d, want %d", online.ElapsedSeconds, 70*60)
	}
}

func TestTrackerSetDailyAndSettings(t *testing.T) {
	c := &clock{now: t0}
	tr, _ := newTracker(t, c)

	tr.SetDaily(source.DailyResult{Date: "2026-03-14", Total: 3*time.Hour + 12*time.Minute, Cached: true})
	today := tr.Current().Today
	if today == nil || today.Total != "3h 12m" || today.Seconds != 11520 || !today.Cached {
		t.Errorf("Today = %+v", today)
	}

	tr.SetSettings(map[string]presence.Settings{
		presence.ActivityCoding: {StaleAfter: time.Minute, ResumeWindow: time.Hour},
	})
	tr.Apply(coding(t0))
	c.now = t0.Add(90 * time.Second)
	tr.Sweep()
	if tr.State(presence.ActivityCoding).IsActive {
		t.Error("coding active past the configured 1m threshold")
	}
}

func TestTrackerTicks(t *testing.T) {
	ticks := make(chan Tick, 8)
	tr := New(Options{
		TickInterval: 5 * time.Millisecond,
		OnTick: func(tk Tick) {
			select {
			case ticks <- tk:
			default:
			}
		},
	})
	defer tr.Stop()

	now := time.Now()
	tr.Apply(coding(now))

	select {
	case tk := <-ticks:
		if tk.Activity != presence.ActivityCoding && tk.Activity != presence.ActivityOnline {
			t.Errorf("tick activity = %q", tk.Activity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tick")
	}
}

// ///////////////////////////////////////////////
// View Tests
// ///////////////////////////////////////////////

func TestViewJSON(t *testing.T) {
	c := &clock{now: t0}
	tr, _ := newTracker(t, c)
	tr.Apply(coding(t0))
	c.now = t0.Add(65 * time.Second)
	tr.Sweep()

	data, err := json.Marshal(tr.Current())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["online"] != true || got["status"] != "coding" {
		t.Errorf("online/status = %v/%v", got["online"], got["status"])
	}
	acts := got["activities"].(map[string]any)
	cod := acts["coding"].(map[string]any)
	if cod["elapsed"] != "1m 5s" || cod["started_at"] != "2026-03-14T09:00:00Z" {
		t.Errorf("coding = %v", cod)
	}
	mus := acts["music"].(map[string]any)
	if _, ok := mus["started_at"]; ok {
		t.Error("inactive music has started_at")
	}
}

func TestViewHashIgnoresElapsed(t *testing.T) {
	a := &View{Online: true, Activities: map[string]ActivityView{"coding": {Active: true, ElapsedSeconds: 5, Elapsed: "5s"}}}
	b := &View{Online: true, Activities: map[string]ActivityView{"coding": {Active: true, ElapsedSeconds: 6, Elapsed: "6s"}}}
	if a.Hash() != b.Hash() {
		t.Error("hash changed with elapsed time only")
	}
	b.Tooltip = "Coding in Vim"
	if a.Hash() == b.Hash() {
		t.Error("hash ignored tooltip change")
	}
	var nilView *View
	if nilView.Hash() != "" {
		t.Error("nil view hash not empty")
	}
}

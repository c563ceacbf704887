package presence

import (
	"log/slog"
	"time"
)

// ///////////////////////////////////////////////
// Reconciler
// ///////////////////////////////////////////////

// Reconciler folds snapshots into per-activity states. It holds no presence
// data itself; callers keep the previous [State] and pass it back in.
type Reconciler struct {
	// Settings maps activity names to thresholds. Missing activities use
	// [DefaultSettings].
	Settings map[string]Settings
	// Store persists session starts for resume after a restart. Nil disables
	// resume entirely.
	Store Store
	// Logger receives store failures. Nil uses slog.Default.
	Logger *slog.Logger
}

// settingsFor returns the configured thresholds for activity.
func (r *Reconciler) settingsFor(activity string) Settings {
	if s, ok := r.Settings[activity]; ok {
		return s
	}
	return DefaultSettings(activity)
}

func (r *Reconciler) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Reconcile returns the state that follows prev once snap has been observed
// at now. It never fails: a failed or ambiguous snapshot preserves prev
// unless prev has independently gone stale.
func (r *Reconciler) Reconcile(prev State, snap Snapshot, now time.Time) State {
	activity := prev.Activity
	if activity == "" {
		activity = snap.Activity
	}
	set := r.settingsFor(activity)

	next := prev
	next.Activity = activity
	next.StaleAfter = set.StaleAfter

	if snap.Failed() {
		if isStale(next.LastKnownEventAt, now, set.StaleAfter) {
			return next.deactivate()
		}
		return next
	}

	// Event data older than what is already recorded came from a poll that
	// completed out of order; only the newest event may move the state.
	if !snap.LastEventAt.IsZero() && !snap.LastEventAt.Before(next.LastKnownEventAt) {
		next.LastKnownEventAt = snap.LastEventAt
		if snap.Label != "" {
			next.Label = snap.Label
			next.Detail = snap.Detail
			next.Link = snap.Link
		}
	}

	if isStale(next.LastKnownEventAt, now, set.StaleAfter) {
		return next.deactivate()
	}
	if set.EndOnIdle && !snap.IsEntityActive {
		return next.deactivate()
	}

	if next.SessionStartedAt.IsZero() {
		next.SessionStartedAt = r.startOrResume(activity, next.LastKnownEventAt, now, set.ResumeWindow)
	}
	next.IsActive = true
	return next
}

// Sweep re-applies the staleness rule without new data. It is the same as
// reconciling a failed snapshot and lets a caller end sessions on a clock
// even when no poll completes.
func (r *Reconciler) Sweep(prev State, now time.Time) State {
	set := r.settingsFor(prev.Activity)
	prev.StaleAfter = set.StaleAfter
	if isStale(prev.LastKnownEventAt, now, set.StaleAfter) {
		return prev.deactivate()
	}
	return prev
}

// isStale reports whether lastEvent is missing or older than threshold.
func isStale(lastEvent, now time.Time, threshold time.Duration) bool {
	return lastEvent.IsZero() || now.Sub(lastEvent) > threshold
}

// ///////////////////////////////////////////////
// Session Resume
// ///////////////////////////////////////////////

// startOrResume picks the start of a new session beginning with the event at
// eventAt. A persisted start is reused when it is not in the future and
// eventAt falls within window after it; otherwise eventAt becomes the start
// and is persisted.
func (r *Reconciler) startOrResume(activity string, eventAt, now time.Time, window time.Duration) time.Time {
	if r.Store == nil {
		return eventAt
	}
	key := SessionKey(activity)

	prior, found := r.loadStart(key)
	if found && !prior.After(now) {
		gap := eventAt.Sub(prior)
		if gap >= 0 && gap <= window {
			r.log().Debug("resuming session", "activity", activity, "started_at", prior)
			return prior
		}
	}

	// Read-then-write-if-newer: a skewed value from the future is replaced.
	if !found || eventAt.After(prior) || prior.After(now) {
		if err := r.Store.Set(key, eventAt.UTC().Format(time.RFC3339Nano)); err != nil {
			r.log().Warn("failed to persist session start", "activity", activity, "error", err)
		}
	}
	r.log().Debug("starting session", "activity", activity, "started_at", eventAt)
	return eventAt
}

// loadStart reads and parses a persisted session start. Read or parse
// failures count as "no prior session".
func (r *Reconciler) loadStart(key string) (time.Time, bool) {
	raw, ok, err := r.Store.Get(key)
	if err != nil {
		r.log().Warn("failed to read session start", "key", key, "error", err)
		return time.Time{}, false
	}
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		r.log().Warn("ignoring unparseable session start", "key", key, "value", raw)
		return time.Time{}, false
	}
	return t, true
}

// ///////////////////////////////////////////////
// Combine
// ///////////////////////////////////////////////

// Combine derives the overall "online" state as the logical OR of states.
// prev is the previous online state: while the OR stays true its session
// start is kept, so the start never moves forward when one activity ends and
// another carries on. A fresh online session starts at the earliest start
// among the active states.
func Combine(prev State, states ...State) State {
	out := State{Activity: ActivityOnline}
	for _, s := range states {
		if s.LastKnownEventAt.After(out.LastKnownEventAt) {
			out.LastKnownEventAt = s.LastKnownEventAt
		}
		if s.StaleAfter > out.StaleAfter {
			out.StaleAfter = s.StaleAfter
		}
		if !s.IsActive {
			continue
		}
		out.IsActive = true
		if out.SessionStartedAt.IsZero() || s.SessionStartedAt.Before(out.SessionStartedAt) {
			out.SessionStartedAt = s.SessionStartedAt
		}
	}
	if out.IsActive && prev.IsActive && prev.SessionStartedAt.Before(out.SessionStartedAt) {
		out.SessionStartedAt = prev.SessionStartedAt
	}
	return out
}

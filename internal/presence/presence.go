// Package presence reconciles polled activity snapshots into a per-activity
// presence state and derives the display values shown to visitors.
//
// The package is deliberately free of I/O: sources produce [Snapshot] values,
// a [Reconciler] folds them into [State] values, and [Elapsed],
// [FormatElapsed] and [Describe] project a state onto display strings. The
// only side effect is the optional [Store] used to resume sessions across
// restarts.
package presence

import "time"

// ///////////////////////////////////////////////
// Activities
// ///////////////////////////////////////////////

// Tracked activity names. They double as the prefix of the persisted session
// key (see [SessionKey]) and as config table names.
const (
	ActivityCoding = "coding"
	ActivityMusic  = "music"
	// ActivityOnline is derived with [Combine], never polled directly.
	ActivityOnline = "online"
)

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// Snapshot is the result of one poll of one external source. FetchedAt is
// always set; on failure FetchError is non-nil and the activity fields are
// zero.
type Snapshot struct {
	// SourceID names the configured source that produced the snapshot.
	SourceID string
	// Activity is the presence state this snapshot feeds.
	Activity string
	// LastEventAt is the most recent heartbeat or playback event; zero when
	// the source reported none.
	LastEventAt time.Time
	// IsEntityActive reports an in-progress activity at fetch time (an open
	// file, a playing track).
	IsEntityActive bool
	// Label is the primary descriptor: editor name or track title.
	Label string
	// Detail is the secondary descriptor: project or artist.
	Detail string
	// Link is an optional URL for the activity, such as the track page.
	Link string
	// FetchedAt is the local time the poll completed.
	FetchedAt time.Time
	// FetchError is set when the poll failed or the body was malformed.
	FetchError error
}

// Failed reports whether the snapshot carries no usable data.
func (s Snapshot) Failed() bool { return s.FetchError != nil }

// Failure builds the snapshot for a failed poll, keeping the invariant that
// activity fields are cleared.
func Failure(sourceID, activity string, fetchedAt time.Time, err error) Snapshot {
	return Snapshot{
		SourceID:   sourceID,
		Activity:   activity,
		FetchedAt:  fetchedAt,
		FetchError: err,
	}
}

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the reconciled belief about one activity. SessionStartedAt is
// non-zero exactly when IsActive is true.
type State struct {
	Activity         string
	IsActive         bool
	SessionStartedAt time.Time
	// LastKnownEventAt is the newest event seen across all polls; it never
	// moves backwards.
	LastKnownEventAt time.Time
	// StaleAfter is the threshold in effect when the state was produced.
	StaleAfter time.Duration

	// Label, Detail and Link describe the newest event and survive the end
	// of a session so a "last seen" line can still be rendered.
	Label  string
	Detail string
	Link   string
}

// deactivate ends the current session while keeping the historical fields.
func (s State) deactivate() State {
	s.IsActive = false
	s.SessionStartedAt = time.Time{}
	return s
}

// ///////////////////////////////////////////////
// Settings
// ///////////////////////////////////////////////

// Settings are the per-activity thresholds applied by the [Reconciler].
type Settings struct {
	// StaleAfter is how old LastKnownEventAt may get before the session ends.
	StaleAfter time.Duration
	// ResumeWindow is the largest gap between a persisted session start and
	// a new event for which the old start is reused.
	ResumeWindow time.Duration
	// EndOnIdle ends the session as soon as a successful poll reports no
	// in-progress entity, instead of waiting for staleness.
	EndOnIdle bool
}

// Default thresholds.
const (
	DefaultStaleAfter   = 5 * time.Minute
	DefaultResumeWindow = 60 * time.Minute
)

// DefaultSettings returns the built-in thresholds for an activity. Music
// sessions end when playback stops; everything else waits for staleness.
func DefaultSettings(activity string) Settings {
	if activity == ActivityMusic {
		return Settings{StaleAfter: time.Minute, ResumeWindow: DefaultResumeWindow, EndOnIdle: true}
	}
	return Settings{StaleAfter: DefaultStaleAfter, ResumeWindow: DefaultResumeWindow}
}

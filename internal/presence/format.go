package presence

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ///////////////////////////////////////////////
// Elapsed Time
// ///////////////////////////////////////////////

// Elapsed returns the whole seconds since the session in s started, or 0 when
// s is inactive. It is recomputed from SessionStartedAt on every call, so a
// caller that misses ticks is exact again on the next one.
func Elapsed(s State, now time.Time) int64 {
	if !s.IsActive || s.SessionStartedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.SessionStartedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// FormatElapsed renders seconds as "Hh Mm" from one hour, "Mm Ss" from one
// minute, and "Ss" below that.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh %dm", h, m)
	case seconds >= 60:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatAgo renders t relative to now ("12 minutes ago"). A zero t yields "".
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Minute {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatDuration renders an aggregate duration such as today's coding total
// ("3h 12m", "45m", "0m").
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int64(d / time.Hour)
	m := int64(d % time.Hour / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// ///////////////////////////////////////////////
// Headline
// ///////////////////////////////////////////////

// Status is the single presentation state shown next to the avatar.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusCoding    Status = "coding"
	StatusListening Status = "listening"
)

// NoActivityText is the tooltip when nothing has ever been observed.
const NoActivityText = "No recent activity"

// Headline is the summary line derived from the coding and music states.
type Headline struct {
	// Online is the OR of both activities and never depends on which label
	// wins below.
	Online  bool
	Status  Status
	Tooltip string
}

// Describe picks the status and tooltip. Current activity beats history,
// music beats coding when both are current, and between two historical
// labels the more recent one wins.
func Describe(coding, music State, now time.Time) Headline {
	h := Headline{Online: coding.IsActive || music.IsActive, Status: StatusOffline}

	switch {
	case music.IsActive:
		h.Status = StatusListening
		h.Tooltip = listeningText("Listening to", music)
	case coding.IsActive:
		h.Status = StatusCoding
		h.Tooltip = codingText(coding)
	default:
		h.Tooltip = lastSeenText(coding, music, now)
	}
	return h
}

// listeningText renders "<prefix> <track> by <artist>".
func listeningText(prefix string, s State) string {
	if s.Label == "" {
		return "Listening to music"
	}
	if s.Detail == "" {
		return prefix + " " + s.Label
	}
	return prefix + " " + s.Label + " by " + s.Detail
}

// codingText renders "Coding in <editor>".
func codingText(s State) string {
	if s.Label == "" {
		return "Coding"
	}
	return "Coding in " + s.Label
}

// lastSeenText renders the most recent historical label.
func lastSeenText(coding, music State, now time.Time) string {
	hasCoding := !coding.LastKnownEventAt.IsZero()
	hasMusic := !music.LastKnownEventAt.IsZero() && music.Label != ""

	switch {
	case hasMusic && (!hasCoding || music.LastKnownEventAt.After(coding.LastKnownEventAt)):
		return listeningText("Last played", music) + ", " + FormatAgo(music.LastKnownEventAt, now)
	case hasCoding:
		text := "Last seen coding"
		if coding.Label != "" {
			text += " in " + coding.Label
		}
		return text + ", " + FormatAgo(coding.LastKnownEventAt, now)
	default:
		return NoActivityText
	}
}

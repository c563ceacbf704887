package tracker

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tools.zach/dev/livestatus/internal/presence"
)

// View is the read-only projection served to the frontend. It is rebuilt
// from the tracked states and never written back.
type View struct {
	Online      bool                    `json:"online"`
	Status      presence.Status         `json:"status"`
	Tooltip     string                  `json:"tooltip"`
	Activities  map[string]ActivityView `json:"activities"`
	Today       *TodayView              `json:"today,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// ActivityView is one activity's state plus its derived timer values.
type ActivityView struct {
	Active         bool       `json:"active"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	Elapsed        string     `json:"elapsed"`
	Label          string     `json:"label,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	Link           string     `json:"link,omitempty"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
	LastSeen       string     `json:"last_seen,omitempty"`
}

// TodayView is today's aggregate coding time.
type TodayView struct {
	Date    string `json:"date"`
	Seconds int64  `json:"seconds"`
	Total   string `json:"total"`
	Cached  bool   `json:"cached,omitempty"`
}

// Tick is pushed once per second per active activity.
type Tick struct {
	Activity       string `json:"activity"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	Elapsed        string `json:"elapsed"`
}

// activityView projects s at now.
func activityView(s presence.State, now time.Time) ActivityView {
	elapsed := presence.Elapsed(s, now)
	v := ActivityView{
		Active:         s.IsActive,
		ElapsedSeconds: elapsed,
		Elapsed:        presence.FormatElapsed(elapsed),
		Label:          s.Label,
		Detail:         s.Detail,
		Link:           s.Link,
	}
	if s.IsActive {
		t := s.SessionStartedAt
		v.StartedAt = &t
	}
	if !s.LastKnownEventAt.IsZero() {
		t := s.LastKnownEventAt
		v.LastEventAt = &t
		v.LastSeen = presence.FormatAgo(t, now)
	}
	return v
}

// Hash fingerprints everything in v except the values that move every
// second, so a republish only happens when something a visitor would notice
// changes.
func (v *View) Hash() string {
	if v == nil {
		return ""
	}
	type key struct {
		Online  bool
		Status  presence.Status
		Tooltip string
		Acts    map[string]ActivityView
		Today   *TodayView
	}
	k := key{Online: v.Online, Status: v.Status, Tooltip: v.Tooltip, Today: v.Today}
	k.Acts = make(map[string]ActivityView, len(v.Activities))
	for name, a := range v.Activities {
		a.ElapsedSeconds = 0
		a.Elapsed = ""
		a.LastSeen = ""
		k.Acts[name] = a
	}
	data, err := json.Marshal(k)
	if err != nil {
		slog.Warn("failed to hash view", "error", err)
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

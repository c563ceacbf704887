package source

import (
	"context"
	"math"
	"time"

	"tools.zach/dev/livestatus/internal/presence"
)

// heartbeatActiveWindow is how recent a heartbeat must be for its entity to
// count as open. Editor plugins send one at least every two minutes while the
// user types.
const heartbeatActiveWindow = 2 * time.Minute

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// statusResponse is {"data": {"last_heartbeat_at", "editor", "entity"}}.
type statusResponse struct {
	Data *struct {
		LastHeartbeatAt *string `json:"last_heartbeat_at"`
		Editor          *string `json:"editor"`
		Entity          *string `json:"entity"`
		Project         *string `json:"project"`
	} `json:"data"`
}

// wakaTimeStatus polls a coding-activity status endpoint.
type wakaTimeStatus struct {
	base
}

func (s *wakaTimeStatus) Fetch(ctx context.Context) presence.Snapshot {
	var body statusResponse
	if _, err := s.get(ctx, &body); err != nil {
		return s.failure(err)
	}
	if body.Data == nil {
		return s.failure(malformed("status response has no data object"))
	}

	snap := s.snapshot()
	if v := deref(body.Data.LastHeartbeatAt); v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return s.failure(malformed("last_heartbeat_at %q: %v", v, err))
		}
		snap.LastEventAt = at
	}
	entity := deref(body.Data.Entity)
	snap.Label = deref(body.Data.Editor)
	snap.Detail = s.detail(deref(body.Data.Project), entity)
	snap.IsEntityActive = entity != "" && recent(snap.LastEventAt, snap.FetchedAt)
	return snap
}

// ///////////////////////////////////////////////
// Heartbeats
// ///////////////////////////////////////////////

// heartbeat is one entry of {"data": [...]}; time is fractional unix seconds.
type heartbeat struct {
	Time     float64 `json:"time"`
	Editor   string  `json:"editor"`
	Category string  `json:"category"`
	Entity   string  `json:"entity"`
	Project  string  `json:"project"`
}

type heartbeatsResponse struct {
	Data *[]heartbeat `json:"data"`
}

// wakaTimeHeartbeats polls a recent-heartbeats endpoint and keeps only the
// newest entry.
type wakaTimeHeartbeats struct {
	base
}

func (s *wakaTimeHeartbeats) Fetch(ctx context.Context) presence.Snapshot {
	var body heartbeatsResponse
	if _, err := s.get(ctx, &body); err != nil {
		return s.failure(err)
	}
	if body.Data == nil {
		return s.failure(malformed("heartbeats response has no data array"))
	}

	snap := s.snapshot()
	var newest *heartbeat
	for i := range *body.Data {
		hb := &(*body.Data)[i]
		if hb.Time <= 0 {
			continue
		}
		if newest == nil || hb.Time > newest.Time {
			newest = hb
		}
	}
	if newest == nil {
		return snap
	}

	snap.LastEventAt = unixSeconds(newest.Time)
	snap.Label = newest.Editor
	snap.Detail = s.detail(newest.Project, newest.Entity)
	snap.IsEntityActive = newest.Entity != "" && recent(snap.LastEventAt, snap.FetchedAt)
	return snap
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// detail prefers the project name and falls back to the entity, both passed
// through the privacy mapping.
func (b *base) detail(project, entity string) string {
	if project != "" {
		return b.entity(project)
	}
	if entity != "" {
		return b.entity(entity)
	}
	return ""
}

// recent reports whether an event at t is within the heartbeat window of now.
func recent(t, now time.Time) bool {
	return !t.IsZero() && now.Sub(t) <= heartbeatActiveWindow
}

// unixSeconds converts fractional unix seconds to a UTC time.
func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package poller

import (
	"errors"
	"time"

	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/source"
)

// Policy chooses the delay before a source's next poll from what its recent
// polls reported.
type Policy struct {
	// Active is used while the source reports an in-progress entity.
	Active time.Duration
	// Recent is used after activity within RecentWindow, for up to
	// MaxRecentPolls consecutive inactive polls.
	Recent         time.Duration
	RecentWindow   time.Duration
	MaxRecentPolls int
	// Idle is used when there is no recent history or inactivity persists.
	Idle time.Duration
	// RateLimited is the minimum delay after an HTTP 429.
	RateLimited time.Duration
}

// DefaultPolicy returns the built-in intervals.
func DefaultPolicy() Policy {
	return Policy{
		Active:         10 * time.Second,
		Recent:         30 * time.Second,
		RecentWindow:   time.Hour,
		MaxRecentPolls: 6,
		Idle:           2 * time.Minute,
		RateLimited:    5 * time.Minute,
	}
}

// History is the per-source memory the policy needs.
type History struct {
	LastEventAt    time.Time
	InactiveStreak int
	// LastDelay is the delay chosen after the previous poll.
	LastDelay time.Duration
}

// Next folds snap into h and returns the delay before the next poll.
//
// A failed poll leaves the history alone: it carries no evidence either way.
// Rate limits back off to at least RateLimited, longer if the server asked.
func (p Policy) Next(h *History, snap presence.Snapshot) time.Duration {
	d := p.next(h, snap)
	h.LastDelay = d
	return d
}

func (p Policy) next(h *History, snap presence.Snapshot) time.Duration {
	if snap.Failed() {
		if errors.Is(snap.FetchError, source.ErrRateLimited) {
			return max(p.RateLimited, source.RetryAfter(snap.FetchError))
		}
		return p.fromHistory(h, snap.FetchedAt)
	}

	if snap.LastEventAt.After(h.LastEventAt) {
		h.LastEventAt = snap.LastEventAt
	}
	if snap.IsEntityActive {
		h.InactiveStreak = 0
		return p.Active
	}
	h.InactiveStreak++
	return p.fromHistory(h, snap.FetchedAt)
}

// fromHistory picks Recent or Idle for an inactive source.
func (p Policy) fromHistory(h *History, now time.Time) time.Duration {
	recent := !h.LastEventAt.IsZero() && now.Sub(h.LastEventAt) <= p.RecentWindow
	if recent && h.InactiveStreak < p.MaxRecentPolls {
		return p.Recent
	}
	return p.Idle
}

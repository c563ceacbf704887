package discord

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/livestatus/internal/metrics"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/tracker"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// DefaultRetryInterval is the minimum gap between reconnect attempts.
const DefaultRetryInterval = 15 * time.Second

// maxFieldLen is the longest details/state string Discord accepts.
const maxFieldLen = 128

// ///////////////////////////////////////////////
// Mapping
// ///////////////////////////////////////////////

// PresenceOptions configures how a view is rendered as an activity.
type PresenceOptions struct {
	LargeImage string
	LargeText  string
	// RetryInterval throttles reconnect attempts. Zero means
	// [DefaultRetryInterval].
	RetryInterval time.Duration
}

// FromView maps v to a Rich Presence activity. It returns nil when v is
// offline, which the caller turns into a clear.
func FromView(v tracker.View, opts PresenceOptions) *Activity {
	if !v.Online {
		return nil
	}

	act := &Activity{
		Details: truncate(v.Tooltip),
		State:   truncate(stateText(v)),
	}
	if opts.LargeImage != "" || v.Status != presence.StatusOffline {
		act.Assets = &Assets{
			LargeImage: opts.LargeImage,
			LargeText:  opts.LargeText,
			SmallImage: string(v.Status),
			SmallText:  statusText(v.Status),
		}
	}
	if online, ok := v.Activities[presence.ActivityOnline]; ok && online.StartedAt != nil {
		act.Timestamps = &Timestamps{Start: online.StartedAt.Unix()}
	}
	if b, ok := leadButton(v); ok {
		act.Buttons = []Button{b}
	}
	return act
}

// stateText prefers today's coding total and falls back to the status.
func stateText(v tracker.View) string {
	if v.Today != nil && v.Today.Seconds > 0 {
		return "Today: " + v.Today.Total
	}
	return statusText(v.Status)
}

func statusText(s presence.Status) string {
	switch s {
	case presence.StatusListening:
		return "Listening"
	case presence.StatusCoding:
		return "Coding"
	default:
		return "Offline"
	}
}

// leadButton links to whatever the tooltip is about.
func leadButton(v tracker.View) (Button, bool) {
	name, label := presence.ActivityCoding, "Open project"
	if v.Status == presence.StatusListening {
		name, label = presence.ActivityMusic, "Open track"
	}
	av, ok := v.Activities[name]
	if !ok || !strings.HasPrefix(av.Link, "https://") {
		return Button{}, false
	}
	return Button{Label: label, URL: av.Link}, true
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldLen {
		return s
	}
	return string(r[:maxFieldLen-1]) + "…"
}

// activityHash fingerprints act so unchanged activities are not resent.
func activityHash(act *Activity) string {
	if act == nil {
		return "clear"
	}
	data, err := json.Marshal(act)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ///////////////////////////////////////////////
// Sink
// ///////////////////////////////////////////////

// Presence is a tracker sink that mirrors views to Discord. Publish never
// blocks: views are handed to a worker goroutine that owns the IPC client,
// keeping only the newest pending view.
type Presence struct {
	client  *Client
	opts    PresenceOptions
	metrics *metrics.Metrics
	log     *slog.Logger

	views chan tracker.View
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	// Worker-owned.
	lastHash    string
	lastAttempt time.Time
}

// NewPresence starts the worker for client.
func NewPresence(client *Client, opts PresenceOptions, m *metrics.Metrics) *Presence {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	p := &Presence{
		client:  client,
		opts:    opts,
		metrics: m,
		log:     slog.With("component", "discord"),
		views:   make(chan tracker.View, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish implements [tracker.Sink].
func (p *Presence) Publish(v tracker.View) {
	for {
		select {
		case p.views <- v:
			return
		default:
		}
		select {
		case <-p.views:
		default:
		}
	}
}

// Close stops the worker, clears the activity and closes the socket.
func (p *Presence) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		err = p.client.Close()
	})
	return err
}

func (p *Presence) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.RetryInterval)
	defer ticker.Stop()

	var latest *tracker.View
	for {
		select {
		case <-p.stop:
			return
		case v := <-p.views:
			latest = &v
			p.push(v, false)
		case <-ticker.C:
			if latest != nil && !p.client.Connected() {
				p.push(*latest, true)
			}
		}
	}
}

// push sends v unless Discord already shows it. A dropped connection is
// re-established first; force skips the reconnect throttle.
func (p *Presence) push(v tracker.View, force bool) {
	if !p.client.Connected() {
		if !p.connect(force) {
			return
		}
		p.lastHash = ""
	}

	act := FromView(v, p.opts)
	hash := activityHash(act)
	if hash == p.lastHash {
		return
	}

	result := "ok"
	if act == nil {
		result = "cleared"
	}
	if err := p.client.SetActivity(act); err != nil {
		p.log.Debug("Discord update failed", "error", err)
		p.metrics.DiscordUpdate("error")
		return
	}
	p.lastHash = hash
	p.metrics.DiscordUpdate(result)
}

func (p *Presence) connect(force bool) bool {
	now := time.Now()
	if !force && !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.opts.RetryInterval {
		return false
	}
	p.lastAttempt = now
	if err := p.client.Connect(); err != nil {
		p.log.Debug("Discord connect failed", "error", err)
		return false
	}
	p.log.Info("connected to Discord")
	return true
}

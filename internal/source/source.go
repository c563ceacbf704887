// Package source fetches raw activity snapshots from external HTTP services.
//
// Every [Source] turns one poll into a [presence.Snapshot]. Fetch never
// panics and never returns an error: network failures, non-success statuses,
// rate limits and malformed bodies all end up in Snapshot.FetchError with the
// activity fields cleared, so the reconciler can treat them as "no new
// information". Scheduling lives in the poller package.
package source

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/livestatus/internal/presence"
)

// Source kinds accepted in [Config.Kind].
const (
	KindWakaTimeStatus     = "wakatime_status"
	KindWakaTimeHeartbeats = "wakatime_heartbeats"
	KindNowPlaying         = "now_playing"
	KindSpotify            = "spotify"
)

// Kinds lists every supported kind.
var Kinds = []string{KindWakaTimeStatus, KindWakaTimeHeartbeats, KindNowPlaying, KindSpotify}

// Source is one polled external service.
type Source interface {
	// ID is the configured source name.
	ID() string
	// Activity is the presence state the snapshots feed.
	Activity() string
	// Fetch performs one poll. FetchedAt is always set.
	Fetch(ctx context.Context) presence.Snapshot
}

// Config describes one source. Built from config.SourceConfig at startup.
type Config struct {
	ID       string
	Kind     string
	Activity string
	URL      string
	Auth     Auth
	Timeout  time.Duration

	// Spotify OAuth settings, resolved from the environment.
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL overrides the Spotify accounts endpoint.
	TokenURL string

	// Entity maps a raw entity (usually a file path) to the text shown to
	// visitors. Nil uses [EntityBase].
	Entity func(entity string) string
	// Now is the clock used for FetchedAt. Nil uses time.Now.
	Now func() time.Time
}

// New builds the source described by cfg on top of client.
func New(cfg Config, client *retryablehttp.Client) (Source, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("source has no id")
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}
	b := newBase(cfg, client)

	switch cfg.Kind {
	case KindWakaTimeStatus:
		return &wakaTimeStatus{base: b}, nil
	case KindWakaTimeHeartbeats:
		return &wakaTimeHeartbeats{base: b}, nil
	case KindNowPlaying:
		return &nowPlaying{base: b}, nil
	case KindSpotify:
		return newSpotify(cfg, b)
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

// EntityBase reduces a path-like entity to its last element.
func EntityBase(entity string) string {
	entity = strings.TrimRight(strings.ReplaceAll(entity, `\`, "/"), "/")
	if entity == "" {
		return ""
	}
	return path.Base(entity)
}

// ///////////////////////////////////////////////
// Shared Plumbing
// ///////////////////////////////////////////////

// base holds what every kind needs.
type base struct {
	id       string
	activity string
	url      string
	auth     Auth
	timeout  time.Duration
	client   *retryablehttp.Client
	entity   func(string) string
	now      func() time.Time
}

func newBase(cfg Config, client *retryablehttp.Client) base {
	b := base{
		id:       cfg.ID,
		activity: cfg.Activity,
		url:      cfg.URL,
		auth:     cfg.Auth,
		timeout:  cfg.Timeout,
		client:   client,
		entity:   cfg.Entity,
		now:      cfg.Now,
	}
	if b.entity == nil {
		b.entity = EntityBase
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *base) ID() string       { return b.id }
func (b *base) Activity() string { return b.activity }

// get fetches b.url into v.
func (b *base) get(ctx context.Context, v any) (int, error) {
	return getJSON(ctx, b.client, b.url, b.auth, b.timeout, v)
}

// failure builds a failed snapshot stamped now.
func (b *base) failure(err error) presence.Snapshot {
	return presence.Failure(b.id, b.activity, b.now(), err)
}

// snapshot starts a successful snapshot stamped now.
func (b *base) snapshot() presence.Snapshot {
	return presence.Snapshot{SourceID: b.id, Activity: b.activity, FetchedAt: b.now()}
}

// malformed wraps a missing-field complaint in [ErrMalformed].
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

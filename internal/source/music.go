package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"tools.zach/dev/livestatus/internal/presence"
)

// ///////////////////////////////////////////////
// Now Playing
// ///////////////////////////////////////////////

// Track types reported by a now-playing endpoint.
const (
	TrackNowPlaying = "now_playing"
	TrackLastPlayed = "last_played"
)

// nowPlayingResponse is {"success", "isPlaying", "displayTrack", "trackType"}.
type nowPlayingResponse struct {
	Success      *bool         `json:"success"`
	IsPlaying    bool          `json:"isPlaying"`
	TrackType    string        `json:"trackType"`
	DisplayTrack *displayTrack `json:"displayTrack"`
}

type displayTrack struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	SongURL  string `json:"songUrl"`
	PlayedAt string `json:"playedAt"`
}

// nowPlaying polls a backend proxy that reports the current or last track.
type nowPlaying struct {
	base
}

func (s *nowPlaying) Fetch(ctx context.Context) presence.Snapshot {
	var body nowPlayingResponse
	if _, err := s.get(ctx, &body); err != nil {
		return s.failure(err)
	}
	if body.Success == nil {
		return s.failure(malformed("now playing response has no success flag"))
	}
	if !*body.Success {
		return s.failure(ErrUpstream)
	}

	snap := s.snapshot()
	if t := body.DisplayTrack; t != nil {
		snap.Label = t.Title
		snap.Detail = t.Artist
		snap.Link = t.SongURL
	}

	playing := body.IsPlaying && body.TrackType != TrackLastPlayed && body.DisplayTrack != nil
	if playing {
		// A playing track is an event observed right now.
		snap.IsEntityActive = true
		snap.LastEventAt = snap.FetchedAt
		return snap
	}
	if t := body.DisplayTrack; t != nil && t.PlayedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, t.PlayedAt)
		if err != nil {
			return s.failure(malformed("playedAt %q: %v", t.PlayedAt, err))
		}
		snap.LastEventAt = at
	}
	return snap
}

// ///////////////////////////////////////////////
// Spotify
// ///////////////////////////////////////////////

// Spotify endpoints.
const (
	SpotifyTokenURL         = "https://accounts.spotify.com/api/token"
	SpotifyCurrentlyPlaying = "https://api.spotify.com/v1/me/player/currently-playing?additional_types=episode"
)

// currentlyPlaying is the subset of Spotify's currently-playing object used.
type currentlyPlaying struct {
	IsPlaying bool  `json:"is_playing"`
	Timestamp int64 `json:"timestamp"`
	Item      *struct {
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		// Show is set for podcast episodes.
		Show *struct {
			Name string `json:"name"`
		} `json:"show"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	} `json:"item"`
}

// spotify polls the Web API directly, refreshing its access token with the
// stored refresh token.
type spotify struct {
	base
}

func newSpotify(cfg Config, b base) (*spotify, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("source %s: spotify needs client id, client secret and refresh token", cfg.ID)
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = SpotifyTokenURL
	}
	if b.url == "" {
		b.url = SpotifyCurrentlyPlaying
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
	}
	ts := oc.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})

	// Same retry policy as the shared client, with the OAuth transport in front.
	client := retryablehttp.NewClient()
	client.RetryMax = b.client.RetryMax
	client.RetryWaitMin = b.client.RetryWaitMin
	client.RetryWaitMax = b.client.RetryWaitMax
	client.Logger = nil
	client.CheckRetry = b.client.CheckRetry
	client.ErrorHandler = b.client.ErrorHandler
	client.HTTPClient = &http.Client{
		Timeout:   b.client.HTTPClient.Timeout,
		Transport: &oauth2.Transport{Source: ts, Base: b.client.HTTPClient.Transport},
	}
	b.client = client
	b.auth = Auth{Mode: AuthNone}
	return &spotify{base: b}, nil
}

func (s *spotify) Fetch(ctx context.Context) presence.Snapshot {
	var body currentlyPlaying
	status, err := s.get(ctx, &body)
	if err != nil {
		return s.failure(err)
	}

	snap := s.snapshot()
	if status == http.StatusNoContent {
		return snap
	}
	if body.Item == nil {
		// Ads and unknown item types: playback without anything to describe.
		if body.IsPlaying {
			snap.IsEntityActive = true
			snap.LastEventAt = snap.FetchedAt
		}
		return snap
	}

	artists := make([]string, 0, len(body.Item.Artists))
	for _, a := range body.Item.Artists {
		artists = append(artists, a.Name)
	}
	snap.Label = body.Item.Name
	snap.Detail = strings.Join(artists, ", ")
	if snap.Detail == "" && body.Item.Show != nil {
		snap.Detail = body.Item.Show.Name
	}
	snap.Link = body.Item.ExternalURLs.Spotify

	if body.IsPlaying {
		snap.IsEntityActive = true
		snap.LastEventAt = snap.FetchedAt
		return snap
	}
	if body.Timestamp > 0 {
		snap.LastEventAt = time.UnixMilli(body.Timestamp).UTC()
	}
	return snap
}

package config

import "strings"

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "polling.active_seconds")
// to their [FieldDoc] entries. Fields of map-keyed sections use "*" for the
// key ("sources.*.kind"); see [DocFor].
var ConfigDocs = map[string]FieldDoc{
	// ── Activities ───────────────────────────────────────────────
	"activities": {
		Comment: "Session thresholds per tracked activity.",
	},
	"activities.*.stale_minutes": {
		Comment: "A session ends once the newest event is older than this many minutes.",
	},
	"activities.*.resume_minutes": {
		Comment: "A new event within this many minutes of the previous session start\ncontinues that session instead of starting a new one.",
	},
	"activities.*.end_on_idle": {
		Comment: "End the session as soon as a successful poll reports nothing in progress.",
	},

	// ── Sources ──────────────────────────────────────────────────
	"sources": {
		Comment: "Polled upstreams. Secrets are read from the named environment variables\n(or from .env in the data directory), never from this file.",
	},
	"sources.*.kind": {
		Comment: "One of: wakatime_status, wakatime_heartbeats, now_playing, spotify",
	},
	"sources.*.activity": {
		Comment: "Which activity this source feeds (coding, music).",
	},
	"sources.*.url": {},
	"sources.*.auth": {
		Comment: "none, basic (API key as the username) or bearer",
		Alternatives: []string{
			`auth = "basic"`,
		},
	},
	"sources.*.token_env": {
		Alternatives: []string{
			`token_env = "WAKATIME_API_KEY"`,
		},
	},
	"sources.*.timeout_seconds": {
		Comment: "Per-request timeout (default 8).",
		Alternatives: []string{
			`timeout_seconds = 8`,
		},
	},
	"sources.*.enabled": {
		Alternatives: []string{
			`enabled = false`,
		},
	},
	"sources.*.client_id_env": {
		Comment: "Spotify only: OAuth client and refresh token environment variables.",
		Alternatives: []string{
			`client_id_env = "SPOTIFY_CLIENT_ID"`,
		},
	},
	"sources.*.client_secret_env": {
		Alternatives: []string{
			`client_secret_env = "SPOTIFY_CLIENT_SECRET"`,
		},
	},
	"sources.*.refresh_token_env": {
		Alternatives: []string{
			`refresh_token_env = "SPOTIFY_REFRESH_TOKEN"`,
		},
	},

	// ── Polling ──────────────────────────────────────────────────
	"polling": {
		Comment: "Adaptive polling: fast while active, slower shortly after, slowest when idle.",
	},
	"polling.active_seconds": {},
	"polling.recent_seconds": {
		Comment: "Used after activity within recent_window_minutes, for at most\nmax_recent_polls consecutive inactive polls.",
	},
	"polling.idle_seconds":          {},
	"polling.recent_window_minutes": {},
	"polling.max_recent_polls":      {},
	"polling.rate_limited_seconds": {
		Comment: "Minimum backoff after HTTP 429 (Retry-After wins when longer).",
	},
	"polling.sweep_seconds": {
		Comment: "How often sessions are re-checked for staleness when no new data arrives.",
	},

	// ── Daily ────────────────────────────────────────────────────
	"daily": {
		Comment: "Today's coding total. {date} in the url is replaced with YYYY-MM-DD.",
	},
	"daily.enabled":          {},
	"daily.url":              {},
	"daily.auth":             {},
	"daily.token_env":        {},
	"daily.interval_minutes": {},

	// ── Store ────────────────────────────────────────────────────
	"store": {
		Comment: "Where the last session start per activity is persisted.",
	},
	"store.backend": {
		Comment: "file (sessions.json in the data directory) or redis",
		Alternatives: []string{
			`backend = "redis"`,
		},
	},
	"store.redis_url_env": {},
	"store.key_prefix":    {},

	// ── Server ───────────────────────────────────────────────────
	"server.enabled": {},
	"server.addr": {
		Alternatives: []string{
			`addr = ":8787"`,
		},
	},
	"server.allowed_origins": {
		Comment: "CORS and WebSocket origins. Empty allows any origin.",
		Alternatives: []string{
			`allowed_origins = ["https://example.com"]`,
		},
	},

	// ── Discord ──────────────────────────────────────────────────
	"discord.enabled": {
		Comment: "Mirror the presence to Discord Rich Presence via the local client.",
	},
	"discord.app_id": {
		Comment: "Application ID of your Discord app. Upload \"coding\" and \"listening\"\nsmall image assets to show the status badge.",
	},
	"discord.large_image": {},
	"discord.large_text":  {},

	// ── Privacy ──────────────────────────────────────────────────
	"privacy.hide_entities": {
		Comment: "Glob patterns; matching files and projects are shown as hidden_label.",
		Alternatives: []string{
			`hide_entities = ["**/work/**", "secret-*"]`,
		},
	},
	"privacy.hidden_label": {},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "trace, debug, info, warn, error",
		Alternatives: []string{
			`level = "debug"`,
		},
	},
	"log.max_size_mb": {},
	"log.max_backups": {},
	"log.stderr": {
		Comment: "Also write logs to stderr (useful in containers).",
	},
}

// mapSections are the sections whose second path segment is a user key.
var mapSections = map[string]bool{"activities": true, "sources": true}

// DocFor looks up path in [ConfigDocs], falling back to the "*" form for
// fields of map-keyed sections.
func DocFor(path string) (FieldDoc, bool) {
	if doc, ok := ConfigDocs[path]; ok {
		return doc, true
	}
	parts := strings.Split(path, ".")
	if len(parts) >= 2 && mapSections[parts[0]] {
		parts[1] = "*"
		doc, ok := ConfigDocs[strings.Join(parts, ".")]
		return doc, ok
	}
	return FieldDoc{}, false
}

// DocPattern returns the [ConfigDocs] key form of a section path, replacing
// the user key of a map-keyed section with "*".
func DocPattern(section string) string {
	parts := strings.Split(section, ".")
	if len(parts) >= 2 && mapSections[parts[0]] {
		parts[1] = "*"
	}
	return strings.Join(parts, ".")
}

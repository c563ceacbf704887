// Package config provides configuration loading and defaults for the
// livestatus daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// Secrets never live in the file: sources name environment variables, which
// are resolved when the runtime configuration is built.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/livestatus/internal/atomicfile"
	"tools.zach/dev/livestatus/internal/paths"
	"tools.zach/dev/livestatus/internal/poller"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/source"
	"tools.zach/dev/livestatus/internal/store"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Activities holds per-activity session thresholds keyed by activity name.
	Activities map[string]ActivityConfig `toml:"activities"`
	// Sources holds the polled upstreams keyed by source ID.
	Sources map[string]SourceConfig `toml:"sources"`
	// Polling holds the adaptive polling intervals.
	Polling PollingConfig `toml:"polling"`
	// Daily holds the daily coding total settings.
	Daily DailyConfig `toml:"daily"`
	// Store selects where session starts are persisted.
	Store StoreConfig `toml:"store"`
	// Server holds the HTTP and WebSocket surface settings.
	Server ServerConfig `toml:"server"`
	// Discord holds the optional Rich Presence mirror settings.
	Discord DiscordConfig `toml:"discord"`
	// Privacy holds entity-hiding rules.
	Privacy PrivacyConfig `toml:"privacy"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// ActivityConfig holds session thresholds for one activity. Zero values fall
// back to the activity's built-in defaults.
type ActivityConfig struct {
	StaleMinutes  int   `toml:"stale_minutes"`
	ResumeMinutes int   `toml:"resume_minutes"`
	EndOnIdle     *bool `toml:"end_on_idle,omitempty"`
}

// SourceConfig describes one polled upstream.
type SourceConfig struct {
	Kind           string `toml:"kind"`
	Activity       string `toml:"activity"`
	URL            string `toml:"url"`
	Auth           string `toml:"auth"`
	TokenEnv       string `toml:"token_env,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
	Enabled        *bool  `toml:"enabled,omitempty"`

	// Spotify only.
	ClientIDEnv     string `toml:"client_id_env,omitempty"`
	ClientSecretEnv string `toml:"client_secret_env,omitempty"`
	RefreshTokenEnv string `toml:"refresh_token_env,omitempty"`
}

// IsEnabled reports whether the source should be polled. Sources are enabled
// unless explicitly turned off.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// PollingConfig holds the adaptive polling intervals.
type PollingConfig struct {
	ActiveSeconds       int `toml:"active_seconds"`
	RecentSeconds       int `toml:"recent_seconds"`
	IdleSeconds         int `toml:"idle_seconds"`
	RecentWindowMinutes int `toml:"recent_window_minutes"`
	MaxRecentPolls      int `toml:"max_recent_polls"`
	RateLimitedSeconds  int `toml:"rate_limited_seconds"`
	// SweepSeconds is how often staleness is re-evaluated without new data.
	SweepSeconds int `toml:"sweep_seconds"`
}

// DailyConfig holds the daily coding total settings.
type DailyConfig struct {
	Enabled         bool   `toml:"enabled"`
	URL             string `toml:"url"`
	Auth            string `toml:"auth"`
	TokenEnv        string `toml:"token_env,omitempty"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

// StoreConfig selects where session starts are persisted.
type StoreConfig struct {
	// Backend is "file" or "redis".
	Backend string `toml:"backend"`
	// RedisURLEnv names the environment variable holding the Redis URL.
	RedisURLEnv string `toml:"redis_url_env"`
	KeyPrefix   string `toml:"key_prefix"`
}

// ServerConfig holds the HTTP and WebSocket surface settings.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DiscordConfig holds the optional Rich Presence mirror settings.
type DiscordConfig struct {
	Enabled    bool   `toml:"enabled"`
	AppID      string `toml:"app_id"`
	LargeImage string `toml:"large_image"`
	LargeText  string `toml:"large_text"`
}

// PrivacyConfig holds entity-hiding rules.
type PrivacyConfig struct {
	// HideEntities is a list of glob patterns matched against raw entities
	// (usually file paths).
	HideEntities []string `toml:"hide_entities"`
	// HiddenLabel replaces any entity matching HideEntities.
	HiddenLabel string `toml:"hidden_label"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// MaxBackups is the number of rotated log files kept.
	MaxBackups int `toml:"max_backups"`
	// Stderr tees log records to standard error.
	Stderr bool `toml:"stderr"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	endOnIdle := true
	return &Config{
		Activities: map[string]ActivityConfig{
			presence.ActivityCoding: {StaleMinutes: 5, ResumeMinutes: 60},
			presence.ActivityMusic:  {StaleMinutes: 1, ResumeMinutes: 60, EndOnIdle: &endOnIdle},
		},
		Sources: map[string]SourceConfig{
			"wakatime": {
				Kind:     source.KindWakaTimeStatus,
				Activity: presence.ActivityCoding,
				URL:      "http://localhost:3001/api/wakatime/status",
				Auth:     source.AuthNone,
			},
			"spotify": {
				Kind:     source.KindNowPlaying,
				Activity: presence.ActivityMusic,
				URL:      "http://localhost:3001/api/spotify/now-playing",
				Auth:     source.AuthNone,
			},
		},
		Polling: PollingConfig{
			ActiveSeconds:       10,
			RecentSeconds:       30,
			IdleSeconds:         120,
			RecentWindowMinutes: 60,
			MaxRecentPolls:      6,
			RateLimitedSeconds:  300,
			SweepSeconds:        15,
		},
		Daily: DailyConfig{
			Enabled:         false,
			URL:             "https://wakatime.com/api/v1/users/current/durations?date={date}",
			Auth:            source.AuthBasic,
			TokenEnv:        "WAKATIME_API_KEY",
			IntervalMinutes: 5,
		},
		Store: StoreConfig{
			Backend:     store.BackendFile,
			RedisURLEnv: "REDIS_URL",
			KeyPrefix:   "livestatus:",
		},
		Server: ServerConfig{
			Enabled:        true,
			Addr:           "127.0.0.1:8787",
			AllowedOrigins: []string{},
		},
		Discord: DiscordConfig{
			Enabled:    false,
			LargeImage: "avatar",
		},
		Privacy: PrivacyConfig{
			HideEntities: []string{},
			HiddenLabel:  "a private project",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	return LoadFile(filepath.Join(dataDir, paths.ConfigFile))
}

// LoadFile is [Load] for an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays TOML data on the defaults and validates the result. A file
// that declares any source replaces the default sources instead of adding to
// them; activities merge per key.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var probe struct {
		Sources map[string]toml.Primitive `toml:"sources"`
	}
	if _, err := toml.Decode(string(data), &probe); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if probe.Sources != nil {
		cfg.Sources = nil
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("unknown config keys ignored", "keys", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// validKinds is the set of accepted source kinds.
var validKinds = map[string]bool{
	source.KindWakaTimeStatus:     true,
	source.KindWakaTimeHeartbeats: true,
	source.KindNowPlaying:         true,
	source.KindSpotify:            true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	var errs []error

	for name, a := range c.Activities {
		if name == presence.ActivityOnline {
			errs = append(errs, fmt.Errorf("activities.%s: %q is derived from the other activities and cannot be configured", name, name))
		}
		if a.StaleMinutes < 0 {
			errs = append(errs, fmt.Errorf("activities.%s.stale_minutes must be >= 0, got %d", name, a.StaleMinutes))
		}
		if a.ResumeMinutes < 0 {
			errs = append(errs, fmt.Errorf("activities.%s.resume_minutes must be >= 0, got %d", name, a.ResumeMinutes))
		}
	}

	enabled := 0
	for _, id := range sortedKeys(c.Sources) {
		s := c.Sources[id]
		if err := c.validateSource(id, s); err != nil {
			errs = append(errs, err)
		}
		if s.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("at least one source must be enabled"))
	}

	p := c.Polling
	for _, f := range []struct {
		name string
		v    int
	}{
		{"active_seconds", p.ActiveSeconds},
		{"recent_seconds", p.RecentSeconds},
		{"idle_seconds", p.IdleSeconds},
		{"recent_window_minutes", p.RecentWindowMinutes},
		{"rate_limited_seconds", p.RateLimitedSeconds},
		{"sweep_seconds", p.SweepSeconds},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("polling.%s must be > 0, got %d", f.name, f.v))
		}
	}
	if p.MaxRecentPolls < 0 {
		errs = append(errs, fmt.Errorf("polling.max_recent_polls must be >= 0, got %d", p.MaxRecentPolls))
	}

	if c.Daily.Enabled {
		if !strings.Contains(c.Daily.URL, "{date}") {
			errs = append(errs, fmt.Errorf("daily.url %q must contain {date}", c.Daily.URL))
		}
		if c.Daily.IntervalMinutes <= 0 {
			errs = append(errs, fmt.Errorf("daily.interval_minutes must be > 0, got %d", c.Daily.IntervalMinutes))
		}
		if err := validateAuth("daily", c.Daily.Auth, c.Daily.TokenEnv); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Store.Backend {
	case store.BackendFile:
	case store.BackendRedis:
		if c.Store.RedisURLEnv == "" {
			errs = append(errs, errors.New("store.redis_url_env is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid store.backend %q: must be file or redis", c.Store.Backend))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}

	if c.Discord.Enabled && c.Discord.AppID == "" {
		errs = append(errs, errors.New("discord.app_id is required when discord is enabled"))
	}

	for _, pattern := range c.Privacy.HideEntities {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("invalid privacy.hide_entities pattern %q", pattern))
		}
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level))
	}

	return errors.Join(errs...)
}

func (c *Config) validateSource(id string, s SourceConfig) error {
	if !validKinds[s.Kind] {
		return fmt.Errorf("sources.%s: invalid kind %q", id, s.Kind)
	}
	if s.Activity == "" {
		return fmt.Errorf("sources.%s: activity is required", id)
	}
	if s.Activity == presence.ActivityOnline {
		return fmt.Errorf("sources.%s: activity %q is reserved for the combined state", id, s.Activity)
	}
	if s.URL == "" && s.Kind != source.KindSpotify {
		return fmt.Errorf("sources.%s: url is required", id)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("sources.%s: timeout_seconds must be >= 0, got %d", id, s.TimeoutSeconds)
	}
	if s.Kind == source.KindSpotify {
		if s.ClientIDEnv == "" || s.ClientSecretEnv == "" || s.RefreshTokenEnv == "" {
			return fmt.Errorf("sources.%s: spotify needs client_id_env, client_secret_env and refresh_token_env", id)
		}
		return nil
	}
	return validateAuth("sources."+id, s.Auth, s.TokenEnv)
}

func validateAuth(section, mode, tokenEnv string) error {
	switch mode {
	case "", source.AuthNone:
		return nil
	case source.AuthBasic, source.AuthBearer:
		if tokenEnv == "" {
			return fmt.Errorf("%s: token_env is required for %s auth", section, mode)
		}
		return nil
	default:
		return fmt.Errorf("%s: invalid auth %q: must be none, basic, or bearer", section, mode)
	}
}

// ///////////////////////////////////////////////
// Runtime Builders
// ///////////////////////////////////////////////

// Settings returns the session thresholds for every configured activity,
// plus the built-in activities when they are not configured.
func (c *Config) Settings() map[string]presence.Settings {
	out := map[string]presence.Settings{
		presence.ActivityCoding: presence.DefaultSettings(presence.ActivityCoding),
		presence.ActivityMusic:  presence.DefaultSettings(presence.ActivityMusic),
	}
	for name, a := range c.Activities {
		s := presence.DefaultSettings(name)
		if a.StaleMinutes > 0 {
			s.StaleAfter = time.Duration(a.StaleMinutes) * time.Minute
		}
		if a.ResumeMinutes > 0 {
			s.ResumeWindow = time.Duration(a.ResumeMinutes) * time.Minute
		}
		if a.EndOnIdle != nil {
			s.EndOnIdle = *a.EndOnIdle
		}
		out[name] = s
	}
	return out
}

// Policy returns the polling policy.
func (c *Config) Policy() poller.Policy {
	p := c.Polling
	return poller.Policy{
		Active:         time.Duration(p.ActiveSeconds) * time.Second,
		Recent:         time.Duration(p.RecentSeconds) * time.Second,
		RecentWindow:   time.Duration(p.RecentWindowMinutes) * time.Minute,
		MaxRecentPolls: p.MaxRecentPolls,
		Idle:           time.Duration(p.IdleSeconds) * time.Second,
		RateLimited:    time.Duration(p.RateLimitedSeconds) * time.Second,
	}
}

// SweepInterval is how often the daemon re-evaluates staleness.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Polling.SweepSeconds) * time.Second
}

// Sources resolves every enabled source into a runtime config, sorted by ID.
// getenv resolves secret environment variables; entity is installed as the
// label mapper so privacy rules can change without rebuilding sources.
func (c *Config) SourceConfigs(getenv func(string) string, entity func(string) string) ([]source.Config, error) {
	var out []source.Config
	for _, id := range sortedKeys(c.Sources) {
		s := c.Sources[id]
		if !s.IsEnabled() {
			continue
		}
		auth := s.Auth
		if auth == "" {
			auth = source.AuthNone
		}
		cfg := source.Config{
			ID:       id,
			Kind:     s.Kind,
			Activity: s.Activity,
			URL:      s.URL,
			Auth:     source.Auth{Mode: auth},
			Timeout:  time.Duration(s.TimeoutSeconds) * time.Second,
			Entity:   entity,
		}
		if s.Kind == source.KindSpotify {
			var err error
			if cfg.ClientID, err = requireEnv(getenv, id, s.ClientIDEnv); err != nil {
				return nil, err
			}
			if cfg.ClientSecret, err = requireEnv(getenv, id, s.ClientSecretEnv); err != nil {
				return nil, err
			}
			if cfg.RefreshToken, err = requireEnv(getenv, id, s.RefreshTokenEnv); err != nil {
				return nil, err
			}
			cfg.Auth = source.Auth{Mode: source.AuthNone}
		} else if auth != source.AuthNone {
			token, err := requireEnv(getenv, id, s.TokenEnv)
			if err != nil {
				return nil, err
			}
			cfg.Auth.Token = token
		}
		out = append(out, cfg)
	}
	return out, nil
}

// DailySource resolves the daily total config. ok is false when the daily
// total is disabled.
func (c *Config) DailySource(getenv func(string) string, cachePath string) (cfg source.DailyConfig, ok bool, err error) {
	if !c.Daily.Enabled {
		return source.DailyConfig{}, false, nil
	}
	auth := c.Daily.Auth
	if auth == "" {
		auth = source.AuthNone
	}
	cfg = source.DailyConfig{
		URL:       c.Daily.URL,
		Auth:      source.Auth{Mode: auth},
		CachePath: cachePath,
	}
	if auth != source.AuthNone {
		if cfg.Auth.Token, err = requireEnv(getenv, "daily", c.Daily.TokenEnv); err != nil {
			return source.DailyConfig{}, false, err
		}
	}
	return cfg, true, nil
}

// DailyInterval is how often the daily total is refreshed.
func (c *Config) DailyInterval() time.Duration {
	return time.Duration(c.Daily.IntervalMinutes) * time.Minute
}

// StoreOptions resolves the session store options. path is used by the file
// backend.
func (c *Config) StoreOptions(getenv func(string) string, path string) store.Options {
	opts := store.Options{
		Backend:   c.Store.Backend,
		Path:      path,
		KeyPrefix: c.Store.KeyPrefix,
	}
	if c.Store.Backend == store.BackendRedis {
		opts.RedisURL = getenv(c.Store.RedisURLEnv)
	}
	return opts
}

func requireEnv(getenv func(string) string, section, name string) (string, error) {
	v := getenv(name)
	if v == "" {
		return "", fmt.Errorf("%s: environment variable %s is not set", section, name)
	}
	return v, nil
}

// ///////////////////////////////////////////////
// Privacy Helpers
// ///////////////////////////////////////////////

// EntityLabel returns the text shown for a raw entity. Entities matching any
// hide pattern (by full path or base name) become HiddenLabel; everything
// else is reduced to its base name.
func (c *Config) EntityLabel(entity string) string {
	if entity == "" {
		return ""
	}
	base := source.EntityBase(entity)
	for _, pattern := range c.Privacy.HideEntities {
		for _, candidate := range []string{filepath.ToSlash(entity), base} {
			matched, err := doublestar.Match(pattern, candidate)
			if err != nil {
				slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
				break
			}
			if matched {
				return c.Privacy.HiddenLabel
			}
		}
	}
	return base
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

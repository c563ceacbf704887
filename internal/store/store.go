// Package store provides persistent [presence.Store] backends for the
// "last session start" keys: a JSON file in the data directory and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tools.zach/dev/livestatus/internal/atomicfile"
	"tools.zach/dev/livestatus/internal/presence"
)

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the JSON file for the file backend.
	Path string
	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string
	// KeyPrefix is prepended to every Redis key.
	KeyPrefix string
}

// Open returns the configured store. The returned closer releases any
// connection held by the backend. Only configuration mistakes are errors: an
// unreadable file or an unreachable Redis is logged and the store starts with
// no persisted values.
func Open(opts Options) (presence.Store, func() error, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Path), func() error { return nil }, nil
	case BackendRedis:
		s, err := NewRedisStore(opts.RedisURL, opts.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Ping(); err != nil {
			slog.Warn("redis store unreachable, session resume unavailable until it recovers", "error", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// ///////////////////////////////////////////////
// File Store
// ///////////////////////////////////////////////

// FileStore keeps every key in one JSON object on disk. The whole object is
// rewritten atomically on each Set, which is fine for a handful of keys.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// NewFileStore loads path, treating a missing file as empty. A corrupt file
// is moved aside to path+".corrupt" and the store starts empty.
func NewFileStore(path string) *FileStore {
	data := make(map[string]string)
	if _, err := atomicfile.ReadJSON(path, &data); err != nil {
		slog.Warn("session store unreadable, starting empty", "path", path, "error", err)
		if fi, statErr := os.Stat(path); statErr == nil && fi.Mode().IsRegular() {
			if err := os.Rename(path, path+".corrupt"); err != nil {
				slog.Debug("could not move session store aside", "error", err)
			}
		}
		data = make(map[string]string)
	}
	if data == nil {
		data = make(map[string]string)
	}
	return &FileStore{path: path, data: data}
}

// Get implements [presence.Store].
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements [presence.Store]. The in-memory value is only updated once
// the file write succeeds.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	next[key] = value
	if err := atomicfile.WriteJSON(s.path, next, 0o644); err != nil {
		return fmt.Errorf("writing session store: %w", err)
	}
	s.data = next
	return nil
}

// ///////////////////////////////////////////////
// Redis Store
// ///////////////////////////////////////////////

// redisTimeout bounds every Redis round trip.
const redisTimeout = 3 * time.Second

// RedisStore keeps keys in Redis so several instances (or a restarted
// container) share one resume history.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a client for url. Connections are made on first use,
// so a Redis that comes up later is picked up without a restart.
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: prefix}, nil
}

// Ping checks that Redis answers.
func (s *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Get implements [presence.Store].
func (s *RedisStore) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements [presence.Store].
func (s *RedisStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Package main implements the livestatus daemon, which polls coding and
// music activity sources, reconciles them into a live presence and serves it
// over HTTP and WebSocket.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	rootpkg "tools.zach/dev/livestatus"
	"tools.zach/dev/livestatus/internal/config"
	"tools.zach/dev/livestatus/internal/logger"
	"tools.zach/dev/livestatus/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via -ldflags "-X main.version=...". Bare
// builds fall back to the VCS info embedded by the toolchain.
var version = "dev"

// resolveVersion returns [version], or "dev+<hash>[.dirty]" for untagged builds.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Lock
// ///////////////////////////////////////////////

// errAlreadyRunning is returned by [acquirePID] when another daemon holds the
// lock.
type errAlreadyRunning struct{ pid int }

func (e *errAlreadyRunning) Error() string {
	if e.pid == 0 {
		return "daemon already running"
	}
	return fmt.Sprintf("daemon already running (pid %d)", e.pid)
}

// pidLock is a locked PID file holding "PID:TOKEN". The file handle stays
// open for the daemon's lifetime to keep the advisory lock.
type pidLock struct {
	path  string
	token string
	f     *os.File
}

// pidToken generates a random 16-character hex token proving ownership of
// the PID file.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// acquirePID locks path and writes this process's PID into it. A file left
// behind by a dead daemon is unlocked and simply taken over.
func acquirePID(path string) (*pidLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, &errAlreadyRunning{pid: readPID(path)}
	}

	l := &pidLock{path: path, token: pidToken(), f: f}
	if err := f.Truncate(0); err != nil {
		l.Release()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), l.token); err != nil {
		l.Release()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return l, nil
}

// Release unlocks and closes the file, then removes it if it still carries
// this lock's token.
func (l *pidLock) Release() {
	if l == nil {
		return
	}
	if l.f != nil {
		_ = unlockFile(l.f)
		l.f.Close()
		l.f = nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if _, token, ok := strings.Cut(string(data), ":"); ok && token == l.token {
		os.Remove(l.path)
	}
}

// readPID returns the PID recorded in path, or 0.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _, _ := strings.Cut(string(data), ":")
	n, err := strconv.Atoi(strings.TrimSpace(pid))
	if err != nil {
		return 0
	}
	return n
}

// ///////////////////////////////////////////////
// Startup Helpers
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.livestatus, or ./.livestatus when the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// seedConfig writes the embedded default config to path on first run.
func seedConfig(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}
	if err := os.WriteFile(path, rootpkg.DefaultConfigTOML, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// loadEnv loads secrets from the optional dotenv file. Variables already in
// the environment win.
func loadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, sessions, and logs")
	flag.Parse()
	os.Exit(run(*dataDir))
}

// run starts the daemon and blocks until shutdown, returning the exit code.
func run(dataDir string) int {
	dp := DataPaths{Root: dataDir}

	if err := os.MkdirAll(dp.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return 1
	}

	lock, err := acquirePID(dp.PID())
	if err != nil {
		var running *errAlreadyRunning
		if errors.As(err, &running) {
			fmt.Fprintln(os.Stderr, running.Error())
		} else {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		return 1
	}
	defer lock.Release()

	if err := seedConfig(dp.Config()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser := logger.NewLogger(logger.Options{
		Path:       dp.Log(),
		Level:      level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Stderr:     cfg.Log.Stderr,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("livestatus starting", "version", resolveVersion(), "data_dir", dp.Root)

	if err := loadEnv(dp.Env()); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	d, err := newDaemon(cfg, dp, level)
	if err != nil {
		logger.Fail(slog.Default(), "startup failed", "error", err)
		return 1
	}
	defer d.Close()

	d.Run(shutdownSignals(), reloadSignals())
	slog.Info("livestatus stopped")
	return 0
}

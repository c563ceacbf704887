package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tools.zach/dev/livestatus/internal/config"
	"tools.zach/dev/livestatus/internal/paths"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "dev"
	if got := resolveVersion(); !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, want dev prefix", got)
	}
}

// ///////////////////////////////////////////////
// PID Lock Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestAcquirePID_WritesPIDAndToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	l, err := acquirePID(dp.PID())
	if err != nil {
		t.Fatalf("acquirePID() error: %v", err)
	}
	defer l.Release()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := l.f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := l.f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	want := fmt.Sprintf("%d:%s", os.Getpid(), l.token)
	if string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), want)
	}
}

func TestAcquirePID_TakesOverStaleFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	l, err := acquirePID(dp.PID())
	if err != nil {
		t.Fatalf("acquirePID() over stale file: %v", err)
	}
	l.Release()

	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("PID file should be removed on release")
	}
}

func TestAcquirePID_SecondInstanceRejected(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	first, err := acquirePID(dp.PID())
	if err != nil {
		t.Fatalf("first acquirePID() error: %v", err)
	}
	defer first.Release()

	_, err = acquirePID(dp.PID())
	var running *errAlreadyRunning
	if !errors.As(err, &running) {
		t.Fatalf("second acquirePID() error = %v, want errAlreadyRunning", err)
	}
}

func TestRelease_KeepsForeignFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	l, err := acquirePID(dp.PID())
	if err != nil {
		t.Fatalf("acquirePID() error: %v", err)
	}
	l.token = "someone-else"
	l.Release()

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Error("PID file owned by another token should be kept")
	}
}

func TestRelease_Nil(t *testing.T) {
	var l *pidLock
	l.Release()
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"pid and token", "4242:abcd", 4242},
		{"pid only", "77\n", 77},
		{"garbage", "nope", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if got := readPID(path); got != tt.want {
				t.Errorf("readPID() = %d, want %d", got, tt.want)
			}
		})
	}
	if got := readPID(filepath.Join(dir, "missing")); got != 0 {
		t.Errorf("readPID(missing) = %d, want 0", got)
	}
}

// ///////////////////////////////////////////////
// Startup Helper Tests
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	if got := defaultDataDir(); !strings.HasSuffix(got, paths.DataDirRel) {
		t.Errorf("defaultDataDir() = %q, want suffix %q", got, paths.DataDirRel)
	}
}

func TestSeedConfig(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	if err := seedConfig(dp.Config()); err != nil {
		t.Fatalf("seedConfig() error: %v", err)
	}
	cfg, err := config.Load(dp.Root)
	if err != nil {
		t.Fatalf("seeded config does not load: %v", err)
	}
	if len(cfg.Sources) == 0 {
		t.Error("seeded config has no sources")
	}

	// An existing file is never overwritten.
	if err := os.WriteFile(dp.Config(), []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := seedConfig(dp.Config()); err != nil {
		t.Fatalf("seedConfig() error: %v", err)
	}
	data, _ := os.ReadFile(dp.Config())
	if !strings.Contains(string(data), "debug") {
		t.Error("seedConfig overwrote an existing config")
	}
}

func TestLoadEnv(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	if err := loadEnv(dp.Env()); err != nil {
		t.Fatalf("loadEnv(missing) error: %v", err)
	}

	t.Setenv("LIVESTATUS_TEST_KEEP", "from-env")
	content := "LIVESTATUS_TEST_KEEP=from-file\nLIVESTATUS_TEST_NEW=secret\n"
	if err := os.WriteFile(dp.Env(), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LIVESTATUS_TEST_NEW") })

	if err := loadEnv(dp.Env()); err != nil {
		t.Fatalf("loadEnv() error: %v", err)
	}
	if got := os.Getenv("LIVESTATUS_TEST_KEEP"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv("LIVESTATUS_TEST_NEW"); got != "secret" {
		t.Errorf("LIVESTATUS_TEST_NEW = %q, want secret", got)
	}
}

// ///////////////////////////////////////////////
// Daemon Tests
// ///////////////////////////////////////////////

func TestRestartSections(t *testing.T) {
	prev := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Polling.ActiveSeconds = 3
	next.Log.Level = "debug"
	if got := restartSections(prev, next); len(got) != 0 {
		t.Errorf("live-applied changes reported as restart sections: %v", got)
	}

	next.Server.Addr = "127.0.0.1:9999"
	next.Discord.LargeText = "hi"
	got := restartSections(prev, next)
	if strings.Join(got, ",") != "server,discord" {
		t.Errorf("restartSections() = %v, want [server discord]", got)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Polling.SweepSeconds = 1

	level := new(slog.LevelVar)
	d, err := newDaemon(cfg, dp, level)
	if err != nil {
		t.Fatalf("newDaemon() error: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	reload := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		d.Run(shutdown, reload)
		close(done)
	}()

	// A reload with a changed log level applies without a restart.
	if err := os.WriteFile(dp.Config(), []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reload <- os.Interrupt
	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatal("log level not applied by reload")
		}
		time.Sleep(10 * time.Millisecond)
	}

	shutdown <- os.Interrupt
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	d.Close()

	if v := d.tracker.Current(); v.Online {
		t.Errorf("daemon came online without any source data: %+v", v)
	}
}

// Package logger tests verify the custom [Handler] output format, level
// filtering, attribute grouping, and the [NewLogger] sinks.
package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// ///////////////////////////////////////////////
// Handler Output Format
// ///////////////////////////////////////////////

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelInfo))

	logger.Info("poll finished", "source", "wakatime")

	line := strings.TrimRight(buf.String(), "\r\n")
	if !strings.Contains(line, "[INFO] poll finished") {
		t.Errorf("expected level and message, got %q", line)
	}
	if !strings.Contains(line, "| source=wakatime") {
		t.Errorf("expected source=wakatime, got %q", line)
	}
	if !strings.HasSuffix(strings.Split(line, " [")[0], "Z") {
		t.Errorf("expected UTC timestamp ending with Z, got %q", line)
	}
}

func TestHandlerNoAttrs(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("no attrs")

	if strings.Contains(buf.String(), "|") {
		t.Errorf("expected no pipe separator without attrs, got %q", buf.String())
	}
}

func TestHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("label", "track", "Song Two", "n", 2)

	line := strings.TrimRight(buf.String(), "\r\n")
	if !strings.Contains(line, `track="Song Two", n=2`) {
		t.Errorf("expected quoted value, got %q", line)
	}
}

func TestHandlerGroupValue(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("grouped", slog.Group("poll", "status", 429, "retry", false))

	line := strings.TrimRight(buf.String(), "\r\n")
	if !strings.Contains(line, "poll.status=429, poll.retry=false") {
		t.Errorf("expected flattened group, got %q", line)
	}
}

// ///////////////////////////////////////////////
// Level Filtering
// ///////////////////////////////////////////////

func TestHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelWarn))

	logger.Info("should be filtered")
	logger.Warn("should appear")

	if strings.Contains(buf.String(), "should be filtered") {
		t.Error("info message should have been filtered at warn level")
	}
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("warn message should appear at warn level")
	}
}

func TestHandlerLevelVar(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(LevelWarn)
	logger := slog.New(NewHandler(&buf, lv))

	logger.Info("hidden")
	lv.Set(LevelDebug)
	logger.Info("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("record below the initial level was written")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("record was filtered after lowering the level")
	}
}

func TestHandlerCustomLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelTrace))

	Trace(logger, "trace msg")
	Fail(logger, "fail msg")

	if !strings.Contains(buf.String(), "[TRACE]") {
		t.Errorf("expected [TRACE] in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[FAIL]") {
		t.Errorf("expected [FAIL] in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"fail", LevelFail},
		{"unknown", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// WithAttrs / WithGroup
// ///////////////////////////////////////////////

func TestHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo).WithAttrs([]slog.Attr{slog.String("component", "poller")})
	slog.New(h).Info("test")

	if !strings.Contains(buf.String(), "component=poller") {
		t.Errorf("expected pre-applied attr, got %q", buf.String())
	}
}

func TestHandlerWithGroupNested(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo).WithGroup("server").WithGroup("request")
	slog.New(h).Info("nested", "method", "GET")

	if !strings.Contains(buf.String(), "server.request.method=GET") {
		t.Errorf("expected nested group prefix, got %q", buf.String())
	}
}

func TestHandlerWithGroupEmpty(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, LevelInfo)
	if h.WithGroup("") != h {
		t.Error("WithGroup with empty string should return same handler")
	}
}

func TestHandlerSharedMutex(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*Handler)
	if h.mu != h2.mu {
		t.Fatal("WithAttrs should share the same mutex pointer")
	}

	l1, l2 := slog.New(h), slog.New(h2)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); l1.Info("one") }()
		go func() { defer wg.Done(); l2.Info("two") }()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 log lines, got %d", len(lines))
	}
}

// ///////////////////////////////////////////////
// NewLogger Constructor
// ///////////////////////////////////////////////

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")

	logger, closer := NewLogger(Options{Path: path, Level: LevelInfo, MaxSizeMB: 1, MaxBackups: 1})
	logger.Info("constructor test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "constructor test") {
		t.Errorf("expected log output in file, got %q", string(data))
	}
}

func TestNewLoggerNoPath(t *testing.T) {
	logger, closer := NewLogger(Options{})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close on stderr-only logger: %v", err)
	}
}

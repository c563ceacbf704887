//go:build !windows

package discord

import (
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestSocketDirs(t *testing.T) {
	dirs := socketDirs("/run/user/1000", 1000)
	if dirs[0] != "/run/user/1000" {
		t.Errorf("first dir = %q, want the runtime dir", dirs[0])
	}
	for _, want := range []string{"/tmp", "/run/user/1000/snap.discord", "/run/user/1000/app/com.discordapp.Discord"} {
		if !slices.Contains(dirs, want) {
			t.Errorf("socketDirs() missing %q: %v", want, dirs)
		}
	}
	seen := map[string]bool{}
	for _, d := range dirs {
		if seen[d] {
			t.Errorf("duplicate dir %q", d)
		}
		seen[d] = true
	}

	if got := socketDirs("", 0); got[0] == "" {
		t.Errorf("empty runtime dir kept: %v", got)
	}
}

func TestSocketPaths(t *testing.T) {
	paths := socketPaths([]string{"/tmp"})
	if len(paths) != 3*ipcSlots {
		t.Fatalf("len = %d, want %d", len(paths), 3*ipcSlots)
	}
	if paths[0] != "/tmp/discord-ipc-0" || !slices.Contains(paths, "/tmp/discordcanary-ipc-9") {
		t.Errorf("unexpected paths: %v", paths[:3])
	}
}

func TestDialIPCFindsRuntimeSocket(t *testing.T) {
	// Unix socket paths are length-limited; keep the directory short.
	dir, err := os.MkdirTemp("", "ls")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv("XDG_RUNTIME_DIR", dir)

	ln, err := net.Listen("unix", filepath.Join(dir, "discord-ipc-3"))
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := dialIPC()
	if err != nil {
		t.Fatalf("dialIPC() error: %v", err)
	}
	conn.Close()
}

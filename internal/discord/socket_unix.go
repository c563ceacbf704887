//go:build !windows

package discord

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// dialTimeout bounds each socket attempt.
const dialTimeout = time.Second

// ipcSlots is how many numbered sockets Discord may listen on.
const ipcSlots = 10

// socketDirs lists the directories Discord (stable, Canary, PTB, Snap and
// Flatpak builds) creates its IPC sockets in, most likely first.
func socketDirs(runtimeDir string, uid int) []string {
	var dirs []string
	if runtimeDir != "" {
		dirs = append(dirs, runtimeDir)
	}
	dirs = append(dirs, os.TempDir(), "/tmp")

	userRun := fmt.Sprintf("/run/user/%d", uid)
	for _, d := range []string{
		"snap.discord",
		"app/com.discordapp.Discord",
		"app/com.discordapp.DiscordCanary",
	} {
		dirs = append(dirs, filepath.Join(userRun, d))
	}

	seen := make(map[string]bool, len(dirs))
	out := dirs[:0]
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// socketPaths expands dirs into every candidate socket path.
func socketPaths(dirs []string) []string {
	var paths []string
	for _, d := range dirs {
		for _, prefix := range []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"} {
			for i := range ipcSlots {
				paths = append(paths, filepath.Join(d, fmt.Sprintf("%s-%d", prefix, i)))
			}
		}
	}
	return paths
}

func dialIPC() (net.Conn, error) {
	dirs := socketDirs(os.Getenv("XDG_RUNTIME_DIR"), os.Getuid())
	for _, path := range socketPaths(dirs) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if conn, err := net.DialTimeout("unix", path, dialTimeout); err == nil {
			return conn, nil
		}
	}
	if isWSL() {
		return nil, fmt.Errorf("%w: under WSL2 Discord's pipe must be relayed to /tmp/discord-ipc-0 (socat + npiperelay.exe)", ErrIPCNotAvailable)
	}
	return nil, ErrIPCNotAvailable
}

// isWSL reports whether the kernel is a WSL kernel.
func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	return err == nil && strings.Contains(strings.ToLower(string(data)), "microsoft")
}

//go:build windows

package discord

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// pipeTimeout bounds each named pipe attempt.
const pipeTimeout = time.Second

// ipcSlots is how many numbered pipes Discord may listen on.
const ipcSlots = 10

func dialIPC() (net.Conn, error) {
	timeout := pipeTimeout
	for i := range ipcSlots {
		conn, err := winio.DialPipe(fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i), &timeout)
		if err == nil {
			return conn, nil
		}
	}
	return nil, ErrIPCNotAvailable
}

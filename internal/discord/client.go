// Package discord mirrors the live presence view to Discord Rich Presence
// over the local IPC socket.
//
// [Client] speaks just enough of the IPC protocol to hand-shake and set or
// clear one activity. [Presence] is a tracker sink that maps each published
// view to that activity. Socket discovery lives in socket_unix.go and
// socket_windows.go.
package discord

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Activity
// ///////////////////////////////////////////////

// Button is a link button under the activity.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Timestamps makes Discord render an "elapsed" counter from Start.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

// Assets are the image keys uploaded to the Discord application.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity is the Rich Presence payload of SET_ACTIVITY.
type Activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
}

// ///////////////////////////////////////////////
// Framing
// ///////////////////////////////////////////////

// opcode is the first header word of an IPC frame.
type opcode uint32

const (
	opHandshake opcode = 0
	opFrame     opcode = 1
	opClose     opcode = 2
)

// maxPayload bounds a single frame. Activities are a few hundred bytes.
const maxPayload = 64 << 10

var (
	// ErrIPCNotAvailable is returned when no Discord IPC socket answers.
	ErrIPCNotAvailable = errors.New("discord IPC not available")
	// ErrNotConnected is returned by commands sent before Connect.
	ErrNotConnected = errors.New("not connected")

	errFrameTooLarge = errors.New("frame too large")
)

// message is the envelope of every JSON frame in either direction.
type message struct {
	Cmd   string          `json:"cmd,omitempty"`
	Evt   string          `json:"evt,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	Args  any             `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// writeFrame marshals v and writes it as one frame:
// [op uint32 LE][len uint32 LE][json].
func writeFrame(w io.Writer, op opcode, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(payload))
	}
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err = w.Write(buf)
	return err
}

// readFrame reads one frame and decodes its JSON body.
func readFrame(r io.Reader) (opcode, message, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, message{}, fmt.Errorf("read frame header: %w", err)
	}
	op := opcode(binary.LittleEndian.Uint32(hdr[0:4]))
	n := binary.LittleEndian.Uint32(hdr[4:8])
	if n > maxPayload {
		return 0, message{}, fmt.Errorf("%w: %d bytes", errFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, message{}, fmt.Errorf("read frame body: %w", err)
	}
	var m message
	if n > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			return 0, message{}, fmt.Errorf("decode frame: %w", err)
		}
	}
	return op, m, nil
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// handshakeTimeout bounds the wait for Discord's READY.
const handshakeTimeout = 5 * time.Second

// Client holds one IPC connection to the local Discord app.
type Client struct {
	appID string
	dial  func() (net.Conn, error)

	mu    sync.Mutex
	conn  net.Conn
	nonce uint64
}

// NewClient returns a client for the Discord application appID.
func NewClient(appID string) *Client {
	return NewClientWithDialer(appID, dialIPC)
}

// NewClientWithDialer is like [NewClient] but opens the socket with dial.
func NewClientWithDialer(appID string, dial func() (net.Conn, error)) *Client {
	return &Client{appID: appID, dial: dial}
}

// Connect replaces any existing connection with a fresh, hand-shaken one.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()
	conn, err := c.dial()
	if err != nil {
		return err
	}
	if err := handshake(conn, c.appID); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	return nil
}

// handshake sends the client id and waits for READY.
func handshake(conn net.Conn, appID string) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	hello := map[string]any{"v": 1, "client_id": appID}
	if err := writeFrame(conn, opHandshake, hello); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	op, resp, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if op == opClose || resp.Evt == "ERROR" {
		var reason struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Data, &reason)
		return fmt.Errorf("handshake rejected: %s", reason.Message)
	}
	if op != opFrame {
		return fmt.Errorf("unexpected handshake reply opcode %d", op)
	}
	return nil
}

// SetActivity shows act, or clears the activity when act is nil. A failed
// write drops the connection so [Client.Connected] turns false.
func (c *Client) SetActivity(act *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setActivityLocked(act)
}

func (c *Client) setActivityLocked(act *Activity) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.nonce++
	msg := message{
		Cmd:   "SET_ACTIVITY",
		Nonce: strconv.FormatUint(c.nonce, 10),
		Args: struct {
			PID      int       `json:"pid"`
			Activity *Activity `json:"activity"`
		}{os.Getpid(), act},
	}
	if err := writeFrame(c.conn, opFrame, msg); err != nil {
		c.dropLocked()
		return fmt.Errorf("send SET_ACTIVITY: %w", err)
	}
	return nil
}

// Connected reports whether a hand-shaken connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close clears the activity (best effort) and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.setActivityLocked(nil)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

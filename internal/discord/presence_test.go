package discord

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tools.zach/dev/livestatus/internal/metrics"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/tracker"
)

var start = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func onlineView(status presence.Status, tooltip string) tracker.View {
	s := start
	v := tracker.View{
		Online:  true,
		Status:  status,
		Tooltip: tooltip,
		Activities: map[string]tracker.ActivityView{
			presence.ActivityOnline: {Active: true, StartedAt: &s},
			presence.ActivityCoding: {Active: status == presence.StatusCoding, Link: "https://github.com/zach/livestatus"},
			presence.ActivityMusic:  {Active: status == presence.StatusListening, Link: "https://open.spotify.com/track/abc"},
		},
	}
	return v
}

// ///////////////////////////////////////////////
// FromView
// ///////////////////////////////////////////////

func TestFromView(t *testing.T) {
	opts := PresenceOptions{LargeImage: "avatar", LargeText: "zach"}

	t.Run("offline clears", func(t *testing.T) {
		if act := FromView(tracker.View{Tooltip: "Last seen coding, 3 minutes ago"}, opts); act != nil {
			t.Fatalf("FromView(offline) = %+v, want nil", act)
		}
	})

	tests := []struct {
		name       string
		view       tracker.View
		wantState  string
		wantButton string
		wantSmall  string
	}{
		{
			name:       "coding without daily total",
			view:       onlineView(presence.StatusCoding, "Coding in VS Code"),
			wantState:  "Coding",
			wantButton: "https://github.com/zach/livestatus",
			wantSmall:  "coding",
		},
		{
			name: "coding with daily total",
			view: func() tracker.View {
				v := onlineView(presence.StatusCoding, "Coding in VS Code")
				v.Today = &tracker.TodayView{Seconds: 11520, Total: "3h 12m"}
				return v
			}(),
			wantState:  "Today: 3h 12m",
			wantButton: "https://github.com/zach/livestatus",
			wantSmall:  "coding",
		},
		{
			name:       "listening links the track",
			view:       onlineView(presence.StatusListening, "Listening to Teardrop by Massive Attack"),
			wantState:  "Listening",
			wantButton: "https://open.spotify.com/track/abc",
			wantSmall:  "listening",
		},
		{
			name: "non-https link is dropped",
			view: func() tracker.View {
				v := onlineView(presence.StatusCoding, "Coding")
				v.Activities[presence.ActivityCoding] = tracker.ActivityView{Active: true, Link: "javascript:alert(1)"}
				return v
			}(),
			wantState: "Coding",
			wantSmall: "coding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := FromView(tt.view, opts)
			if act == nil {
				t.Fatal("FromView() = nil")
			}
			if act.Details != tt.view.Tooltip {
				t.Errorf("Details = %q, want %q", act.Details, tt.view.Tooltip)
			}
			if act.State != tt.wantState {
				t.Errorf("State = %q, want %q", act.State, tt.wantState)
			}
			if act.Timestamps == nil || act.Timestamps.Start != start.Unix() {
				t.Errorf("Timestamps = %+v, want start %d", act.Timestamps, start.Unix())
			}
			if act.Assets == nil || act.Assets.LargeImage != "avatar" || act.Assets.SmallImage != tt.wantSmall {
				t.Errorf("Assets = %+v", act.Assets)
			}
			switch {
			case tt.wantButton == "" && len(act.Buttons) != 0:
				t.Errorf("Buttons = %+v, want none", act.Buttons)
			case tt.wantButton != "" && (len(act.Buttons) != 1 || act.Buttons[0].URL != tt.wantButton):
				t.Errorf("Buttons = %+v, want %s", act.Buttons, tt.wantButton)
			}
		})
	}
}

func TestFromViewTruncates(t *testing.T) {
	act := FromView(onlineView(presence.StatusCoding, strings.Repeat("é", 200)), PresenceOptions{})
	if n := len([]rune(act.Details)); n != maxFieldLen {
		t.Errorf("len(Details) = %d runes, want %d", n, maxFieldLen)
	}
}

// ///////////////////////////////////////////////
// Presence
// ///////////////////////////////////////////////

// fakeDiscord accepts one connection, answers the handshake and forwards
// every SET_ACTIVITY payload it reads.
func fakeDiscord(t *testing.T) (func() (net.Conn, error), <-chan map[string]any) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close() })

	frames := make(chan map[string]any, 16)
	go func() {
		defer close(frames)
		if _, _, err := readFrame(serverConn); err != nil {
			return
		}
		if err := writeFrame(serverConn, opFrame, message{Cmd: "DISPATCH", Evt: "READY"}); err != nil {
			return
		}
		for {
			_, msg, err := readFrame(serverConn)
			if err != nil {
				return
			}
			args, _ := msg.Args.(map[string]any)
			frames <- map[string]any{"cmd": msg.Cmd, "args": args}
		}
	}()

	dialed := false
	return func() (net.Conn, error) {
		if dialed {
			return nil, ErrIPCNotAvailable
		}
		dialed = true
		return clientConn, nil
	}, frames
}

func nextActivity(t *testing.T, frames <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m, ok := <-frames:
		if !ok {
			t.Fatal("fake Discord closed")
		}
		args, _ := m["args"].(map[string]any)
		act, _ := args["activity"].(map[string]any)
		return act
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SET_ACTIVITY")
		return nil
	}
}

func TestPresencePublishes(t *testing.T) {
	dial, frames := fakeDiscord(t)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := NewPresence(NewClientWithDialer("app", dial), PresenceOptions{}, m)

	coding := onlineView(presence.StatusCoding, "Coding in VS Code")
	p.Publish(coding)
	act := nextActivity(t, frames)
	if act == nil || act["details"] != "Coding in VS Code" {
		t.Fatalf("first activity = %v", act)
	}

	// An identical view is not resent, so the next frame is the clear.
	p.Publish(coding)
	p.Publish(tracker.View{Tooltip: "Last seen coding in VS Code, just now"})
	if act := nextActivity(t, frames); act != nil {
		t.Fatalf("expected clear after offline view, got %v", act)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got := testutil.ToFloat64(m.DiscordUpdates.WithLabelValues("ok")); got != 1 {
		t.Errorf("discord_updates{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DiscordUpdates.WithLabelValues("cleared")); got != 1 {
		t.Errorf("discord_updates{cleared} = %v, want 1", got)
	}
}

func TestPresenceUnavailable(t *testing.T) {
	c := NewClientWithDialer("app", func() (net.Conn, error) { return nil, ErrIPCNotAvailable })
	p := NewPresence(c, PresenceOptions{RetryInterval: time.Hour}, nil)

	p.Publish(onlineView(presence.StatusCoding, "Coding"))
	p.Publish(onlineView(presence.StatusListening, "Listening to music"))

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if c.Connected() {
		t.Error("client connected without a socket")
	}
}

package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/state"
)

type receivedMessage struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialTestServer(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(receivedMessage) bool) receivedMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg receivedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read WebSocket message: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestWebSocketInitialSnapshot(t *testing.T) {
	env := createTestServer(t)
	env.player.SetVolume(0.25)

	conn := dialTestServer(t, env)

	var msg receivedMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read initial message: %v", err)
	}

	if msg.Type != MessageState {
		t.Fatalf("Expected first message to be state, got %s", msg.Type)
	}

	var st state.State
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if st.Volume != 0.25 {
		t.Errorf("Expected volume 0.25 in snapshot, got %v", st.Volume)
	}
}

func TestWebSocketRelaysCommandsAndEvents(t *testing.T) {
	env := createTestServer(t)
	conn := dialTestServer(t, env)

	// Wait for the snapshot so the client is registered.
	readUntil(t, conn, func(m receivedMessage) bool { return m.Type == MessageState })

	if err := env.player.LoadURL("https://cdn.example.com/movie.mp4"); err != nil {
		t.Fatalf("Failed to load source: %v", err)
	}

	msg := readUntil(t, conn, func(m receivedMessage) bool {
		return m.Type == MessageEvent && m.Event == events.EventLoad
	})
	var load events.LoadRequest
	if err := json.Unmarshal(msg.Data, &load); err != nil {
		t.Fatalf("Failed to decode load event: %v", err)
	}
	if load.URL != "https://cdn.example.com/movie.mp4" || load.Type != state.SourceMP4 {
		t.Errorf("Unexpected load event: %+v", load)
	}

	// Subtitle tracks are detached before the new source is set.
	var cmd core.Command
	readUntil(t, conn, func(m receivedMessage) bool {
		if m.Type != MessageCommand {
			return false
		}
		cmd = core.Command{}
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			t.Fatalf("Failed to decode command: %v", err)
		}
		return cmd.Name == core.CommandSetSource
	})
	if cmd.Source == nil || cmd.Source.URL != load.URL {
		t.Errorf("Expected set-source command for the loaded URL, got %+v", cmd)
	}
}

func TestWebSocketMediaEvents(t *testing.T) {
	env := createTestServer(t)
	conn := dialTestServer(t, env)

	readUntil(t, conn, func(m receivedMessage) bool { return m.Type == MessageState })

	err := conn.WriteJSON(ClientMessage{
		Type:  MessageMedia,
		Media: &core.MediaEvent{Type: core.MediaDurationChange, Duration: 93.5},
	})
	if err != nil {
		t.Fatalf("Failed to send media event: %v", err)
	}

	readUntil(t, conn, func(m receivedMessage) bool {
		if m.Type != MessageState {
			return false
		}
		var st state.State
		return json.Unmarshal(m.Data, &st) == nil && st.Duration == 93.5
	})

	if got := env.player.State().Duration; got != 93.5 {
		t.Errorf("Expected duration 93.5, got %v", got)
	}
}

func TestWebSocketNotificationAction(t *testing.T) {
	env := createTestServer(t)
	conn := dialTestServer(t, env)

	readUntil(t, conn, func(m receivedMessage) bool { return m.Type == MessageState })

	ran := make(chan struct{})
	id := env.player.Notify(state.Notification{
		Message: "Download failed",
		Type:    state.NotifyError,
		Action:  &state.Action{Label: "Retry", Run: func() { close(ran) }},
	})

	if err := conn.WriteJSON(ClientMessage{Type: MessageAction, ID: id}); err != nil {
		t.Fatalf("Failed to send action: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for notification action")
	}
}

func TestHubDropsClientsOnStop(t *testing.T) {
	env := createTestServer(t)
	conn := dialTestServer(t, env)

	readUntil(t, conn, func(m receivedMessage) bool { return m.Type == MessageState })

	if n := env.server.hub.count(); n != 1 {
		t.Fatalf("Expected 1 client, got %d", n)
	}

	if err := env.server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}

	if n := env.server.hub.count(); n != 0 {
		t.Errorf("Expected no clients after stop, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

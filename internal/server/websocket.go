package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/state"
)

// Outbound message types.
const (
	MessageState   = "state"
	MessageEvent   = "event"
	MessageCommand = "command"
	MessageOpenURL = "open-url"
)

// Inbound message types.
const (
	MessageMedia   = "media"
	MessageAction  = "action"
	MessageDismiss = "dismiss"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS configuration on the HTTP API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is sent to WebSocket clients.
type Message struct {
	Type string `json:"type"`
	// Event names the lifecycle event or request channel for MessageEvent.
	Event     string    `json:"event,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is received from WebSocket clients. Media carries element
// observations for MessageMedia; ID names the notification for
// MessageAction and MessageDismiss.
type ClientMessage struct {
	Type  string           `json:"type"`
	Media *core.MediaEvent `json:"media,omitempty"`
	ID    string           `json:"id,omitempty"`
}

// hub tracks connected clients and fans messages out to them.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister removes c and closes its send queue. It is a no-op for clients
// already removed.
func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// broadcast queues msg for every client without blocking. Slow clients
// miss messages.
func (h *hub) broadcast(msg Message) {
	msg.Timestamp = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping WebSocket message, client queue full",
				"type", msg.Type, "remote_addr", c.remoteAddr)
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// attach relays store snapshots and bus traffic to WebSocket clients.
func (s *Server) attach() {
	s.detach = append(s.detach, s.player.Store().Subscribe(func(next, _ state.State) {
		s.hub.broadcast(Message{Type: MessageState, Data: next})
	}))

	bus := s.player.Bus()
	channels := append([]string{events.ChannelQualityRequest, events.ChannelAudioTrackRequest}, events.LifecycleEvents...)
	for _, name := range channels {
		s.detach = append(s.detach, bus.Subscribe(name, func(payload any) {
			s.hub.broadcast(Message{Type: MessageEvent, Event: name, Data: payload})
		}))
	}
	s.detach = append(s.detach,
		bus.Subscribe(events.ChannelMediaCommand, func(payload any) {
			s.hub.broadcast(Message{Type: MessageCommand, Data: payload})
		}),
		bus.Subscribe(events.ChannelOpenURL, func(payload any) {
			s.hub.broadcast(Message{Type: MessageOpenURL, Data: payload})
		}),
	)
}

// wsClient represents a connected WebSocket client.
type wsClient struct {
	conn       *websocket.Conn
	send       chan Message
	server     *Server
	remoteAddr string
	logger     *slog.Logger
}

// handleWebSocket upgrades the connection, sends the current snapshot and
// then relays state and events until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &wsClient{
		conn:       conn,
		send:       make(chan Message, sendBuffer),
		server:     s,
		remoteAddr: r.RemoteAddr,
		logger:     s.logger,
	}

	s.logger.Info("WebSocket client connected", "remote_addr", r.RemoteAddr)

	// Queue the snapshot before registering so it is the first message.
	client.send <- Message{Type: MessageState, Data: s.player.State(), Timestamp: time.Now()}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends queued messages and keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("WebSocket write pump stopped", "remote_addr", c.remoteAddr)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error("WebSocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("WebSocket ping error", "error", err)
				return
			}
		}
	}
}

// readPump receives media events and notification actions from the client.
func (c *wsClient) readPump() {
	defer func() {
		c.server.hub.unregister(c)
		c.conn.Close()
		c.logger.Debug("WebSocket read pump stopped", "remote_addr", c.remoteAddr)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(message)
		case websocket.BinaryMessage:
			c.logger.Warn("Binary messages not supported")
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// handleTextMessage dispatches one client message to the player.
func (c *wsClient) handleTextMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("Ignoring malformed WebSocket message", "error", err)
		return
	}

	player := c.server.player
	switch msg.Type {
	case MessageMedia:
		if msg.Media == nil {
			c.logger.Warn("Media message without event")
			return
		}
		player.HandleMediaEvent(*msg.Media)
	case MessageAction:
		if !player.RunAction(msg.ID) {
			c.logger.Debug("Notification has no action", "id", msg.ID)
		}
	case MessageDismiss:
		player.DismissNotification(msg.ID)
	default:
		c.logger.Warn("Unknown WebSocket message type", "type", msg.Type)
	}
}

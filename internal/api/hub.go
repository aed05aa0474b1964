// Package api exposes the controller over HTTP: a WebSocket endpoint for
// agent traffic and a small read-only REST surface for observers.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opentac/controller/internal/metrics"
	"github.com/opentac/controller/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// MessageHandler receives decoded agent requests. The controller's
// Submit method satisfies it.
type MessageHandler interface {
	Submit(sender string, req protocol.Request) error
}

// session is one connected agent: its address, its connection, and a
// buffered outbound queue drained by a dedicated writer goroutine.
type session struct {
	addr string
	conn *websocket.Conn
	send chan []byte
}

// Hub manages agent WebSocket sessions keyed by address and routes
// controller responses back to them. It implements the controller's
// Sink.
type Hub struct {
	log *slog.Logger

	handler MessageHandler

	sessions   map[string]*session
	register   chan *session
	unregister chan *session
	mu         sync.RWMutex
}

// NewHub creates an agent session hub. Bind the message handler before
// serving connections.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		sessions:   make(map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
	}
}

// Bind sets the handler for inbound agent requests. Must be called
// before HandleWS serves any connection.
func (h *Hub) Bind(handler MessageHandler) { h.handler = handler }

// Run starts the hub's session bookkeeping loop. Must be called in a
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			// A reconnect under the same address replaces the old session.
			if old, ok := h.sessions[s.addr]; ok {
				close(old.send)
				old.conn.Close()
			}
			h.sessions[s.addr] = s
			total := len(h.sessions)
			h.mu.Unlock()
			metrics.ConnectedAgents.Set(float64(total))
			h.log.Info("agent connected", "addr", s.addr, "total", total)

		case s := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.sessions[s.addr]; ok && cur == s {
				delete(h.sessions, s.addr)
				close(s.send)
				s.conn.Close()
			}
			total := len(h.sessions)
			h.mu.Unlock()
			metrics.ConnectedAgents.Set(float64(total))
			h.log.Info("agent disconnected", "addr", s.addr, "total", total)
		}
	}
}

// Send delivers a response to the agent at addr. Delivery is best
// effort: unknown addresses and full queues drop the message, never
// blocking the caller.
func (h *Hub) Send(addr string, resp protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		h.log.Error("response encoding failed", "addr", addr, "err", err)
		return
	}

	// The push stays under the read lock: send channels are only closed
	// under the write lock, so a closed-channel send cannot race in here.
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[addr]
	if !ok {
		return
	}

	select {
	case s.send <- data:
	default:
		// Drop for a slow consumer rather than stall the event loop.
		h.log.Warn("outbound queue full, dropping message", "addr", addr)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades an agent connection at GET /api/v1/ws. The agent's
// address comes from the "address" query parameter; absent that, a
// fresh UUID is assigned for the lifetime of the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	addr := r.URL.Query().Get("address")
	if addr == "" {
		addr = uuid.New().String()
	}

	s := &session{addr: addr, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- s

	go h.writePump(s)
	go h.readPump(s)
}

// readPump decodes inbound frames and forwards them to the handler.
func (h *Hub) readPump(s *session) {
	defer func() { h.unregister <- s }()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			h.Send(s.addr, protocol.Error{
				Code:    protocol.RequestNotValid,
				Details: map[string]string{"error": err.Error()},
			})
			continue
		}
		if err := h.handler.Submit(s.addr, req); err != nil {
			h.Send(s.addr, protocol.Error{Code: protocol.GenericError})
		}
	}
}

// writePump drains the outbound queue and keeps the connection alive
// through proxies with periodic pings.
func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

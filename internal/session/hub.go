package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/buyback-auction/internal/auction"
	"github.com/atmx/buyback-auction/internal/metrics"
	"github.com/atmx/buyback-auction/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

type inbound struct {
	from *Session
	data []byte
}

// Hub owns the set of connected sessions. Its Run loop is the only
// goroutine that dispatches commands, so commands are applied one at a
// time in arrival order and their events are delivered in the same order.
type Hub struct {
	dispatcher *Dispatcher
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	inbound    chan inbound
	done       chan struct{}
}

// NewHub creates a hub that routes commands through d.
func NewHub(d *Dispatcher) *Hub {
	return &Hub{
		dispatcher: d,
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and blocks until ctx is cancelled.
// Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case s := <-h.register:
			h.sessions[s] = true
			metrics.WebSocketClients.Set(float64(len(h.sessions)))
			slog.Info("ws client connected", "session", s.ID, "total", len(h.sessions))

		case s := <-h.unregister:
			if h.sessions[s] {
				h.drop(s)
				slog.Info("ws client disconnected", "session", s.ID, "total", len(h.sessions))
			}

		case msg := <-h.inbound:
			if !h.sessions[msg.from] {
				continue
			}
			cmd, err := protocol.DecodeCommand(msg.data)
			if err != nil {
				slog.Debug("inbound message dropped", "session", msg.from.ID, "err", err)
				metrics.CommandsDropped.WithLabelValues("malformed").Inc()
				continue
			}
			h.deliver(msg.from, h.dispatcher.Dispatch(msg.from, cmd))

		case <-ctx.Done():
			for s := range h.sessions {
				h.drop(s)
			}
			return
		}
	}
}

// deliver routes events to their audiences. Each event is encoded once.
func (h *Hub) deliver(from *Session, out []auction.Outbound) {
	for _, o := range out {
		data, err := protocol.Encode(o.Event)
		if err != nil {
			slog.Error("encode event failed", "type", o.Event.Type, "err", err)
			continue
		}
		switch o.To {
		case auction.Sender:
			h.send(from, data)
		case auction.Admins:
			for s := range h.sessions {
				if s.Can(CapAdminister) {
					h.send(s, data)
				}
			}
		case auction.Everyone:
			for s := range h.sessions {
				h.send(s, data)
			}
		}
	}
}

// send queues a frame without blocking. Sessions whose buffer is full are
// dropped rather than stalling the event loop.
func (h *Hub) send(s *Session, data []byte) {
	if !h.sessions[s] {
		return
	}
	select {
	case s.send <- data:
	default:
		slog.Warn("ws client too slow, dropping", "session", s.ID)
		h.drop(s)
	}
}

func (h *Hub) drop(s *Session) {
	delete(h.sessions, s)
	close(s.send)
	metrics.WebSocketClients.Set(float64(len(h.sessions)))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // participants join from their own devices via the join link
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	s := newSession(conn)
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

// readPump forwards frames to the event loop and detects disconnects.
func (h *Hub) readPump(s *Session) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
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
		select {
		case h.inbound <- inbound{from: s, data: data}:
		case <-h.done:
			return
		}
	}
}

// writePump drains the session's queue and keeps the connection alive
// through proxies with periodic pings.
func (h *Hub) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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

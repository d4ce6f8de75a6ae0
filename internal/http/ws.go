package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"DTokenSale/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	streamBuffer   = 256
)

// EventStream pushes settlement events to websocket clients. A client may
// narrow the stream with ?types=sale.order.created,sale.tokens.claimed.
type EventStream struct {
	bus      *events.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewEventStream(bus *events.Bus, logger *slog.Logger, origins []string) *EventStream {
	return &EventStream{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origins, origin)
			},
		},
	}
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := typeFilter(r.URL.Query().Get("types"))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}
	sub, cancel := s.bus.Subscribe(streamBuffer)
	done := make(chan struct{})

	go s.readPump(conn, done)
	s.writePump(conn, sub, filter, done)
	cancel()
	_ = conn.Close()
}

// readPump only drains control frames; it closes done when the peer goes away.
func (s *EventStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws closed", slog.Any("err", err))
			}
			return
		}
	}
}

func (s *EventStream) writePump(conn *websocket.Conn, sub <-chan events.Event, filter map[string]bool, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if len(filter) > 0 && !filter[ev.Type] {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func typeFilter(raw string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}

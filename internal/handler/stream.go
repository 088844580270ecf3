package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web3-frozen/defilens/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are done by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Frame is one message on the event stream.
type Frame struct {
	Topic   events.Topic `json:"topic"`
	Payload any          `json:"payload"`
}

// Stream answers GET /api/stream by upgrading to a websocket and forwarding
// every bus event as a Frame. Slow clients lose frames rather than block
// publishers.
func Stream(bus *events.Bus, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws: upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		send := make(chan Frame, sendBufferSize)
		forward := func(topic events.Topic, payload any) {
			select {
			case send <- Frame{Topic: topic, Payload: payload}:
			default:
				logger.Warn("ws: dropping frame for slow client", "topic", topic)
			}
		}
		subs := []*events.Subscription{
			bus.Subscribe(events.TopicUpdate, forward),
			bus.Subscribe(events.TopicAlert, forward),
		}
		defer func() {
			for _, s := range subs {
				s.Unsubscribe()
			}
		}()

		logger.Info("ws: client connected", "remote", r.RemoteAddr)
		done := make(chan struct{})
		go readPump(conn, done)
		writePump(conn, send, done, logger)
		logger.Info("ws: client disconnected", "remote", r.RemoteAddr)
	}
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan Frame, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case f := <-send:
			msg, err := json.Marshal(f)
			if err != nil {
				logger.Warn("ws: encode frame", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

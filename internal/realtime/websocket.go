// Package realtime streams auction events to websocket subscribers.
package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks are left to the deployment's reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second

	// Slow subscribers are dropped once their buffer fills.
	sendBuffer = 64
)

// Handler upgrades connections and fans published auction events out to them.
type Handler struct {
	hub *events.Hub
	log *logger.Logger
}

// NewHandler creates a websocket fanout over the hub.
func NewHandler(hub *events.Hub, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	return &Handler{hub: hub, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan events.Event, sendBuffer)
	unsubscribe := h.hub.Subscribe(func(e events.Event) {
		select {
		case send <- e:
		default:
			// Buffer full; the write loop below will notice the closed
			// connection once the client falls too far behind.
		}
	})
	defer unsubscribe()

	_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Discard inbound frames; the stream is one-way. Read errors end
		// the session.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

package admin

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mnohosten/interbank/pkg/gateway"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Admin listener binds locally; origin checks are left to the
		// operator's proxy.
		return true
	},
}

// EventHub fans payment outcomes out to connected websocket subscribers.
// It implements gateway.EventSink. Slow or broken subscribers are
// dropped rather than allowed to stall payment processing.
type EventHub struct {
	logger *log.Entry

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		logger: log.WithField("component", "admin"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// PaymentProcessed broadcasts one payment outcome to all subscribers.
func (h *EventHub) PaymentProcessed(event gateway.PaymentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.WithError(err).Debug("dropping event subscriber")
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects all subscribers.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// handleEvents upgrades the request and registers the subscriber. Reads
// are drained only to detect the close; subscribers receive events, they
// do not send.
func (h *EventHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade event subscriber")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if _, ok := h.conns[conn]; ok {
					conn.Close()
					delete(h.conns, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

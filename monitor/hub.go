// Package monitor provides a read-only live status channel over
// WebSocket: queue level, DAQ list states, overflow counters and connected
// session info, pushed to any number of subscribers. It is an
// observability side-channel and never participates in the XCP protocol
// state machine.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Snapshot is one status frame broadcast to subscribers.
type Snapshot struct {
	Connected      bool              `json:"connected"`
	QueueLevel     uint32            `json:"queueLevel"`
	QueueCapacity  uint32            `json:"queueCapacity"`
	Lists          []DaqListStatus   `json:"lists"`
	OverflowTotals map[string]uint32 `json:"overflowTotals,omitempty"`
	StampUnixMs    int64             `json:"stampUnixMs"`
}

// DaqListStatus reports one DAQ list's status for the monitor UI.
type DaqListStatus struct {
	ID      int    `json:"id"`
	State   string `json:"state"`
	EventID int    `json:"eventId"`
	ODTs    int    `json:"odts"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans a Snapshot out to every connected subscriber, generalizing the
// broadcast/wsClient pattern used elsewhere in this codebase for live data
// push.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades r to a WebSocket connection and registers it as a
// subscriber. Mount at e.g. "/status/ws".
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range sub.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.send)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish serializes snap and pushes it to every connected subscriber.
// Slow subscribers are skipped for this frame rather than blocking the
// publisher.
func (h *Hub) Publish(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
		}
	}
}

// SubscriberCount reports how many WebSocket clients are currently
// connected.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

package viewer

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/snapshot"
)

// Event is pushed to every websocket client.
type Event struct {
	Type string `json:"type"` // "snapshot" or "preview"
	Data any    `json:"data"`
}

// SnapshotEvent summarizes a new snapshot without its contents.
type SnapshotEvent struct {
	Digest string   `json:"digest"`
	Keys   []string `json:"keys"`
}

const writeWait = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// The workbench UI is served from the same loopback host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients. Slow clients miss events.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("VIEWER: encode %s event: %v", ev.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// serve upgrades to a websocket and writes events until the client goes
// away. The events returned by hello are written first.
func (h *Hub) serve(hello func() []Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("VIEWER: websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		c := &wsClient{conn: conn, send: make(chan []byte, 32)}
		if !h.add(c) {
			return
		}
		defer h.remove(c)

		if hello != nil {
			for _, ev := range hello() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}

		// Drain incoming frames so close and ping are processed.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case data, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}
}

func snapshotEvent(s snapshot.Snapshot) Event {
	return Event{Type: "snapshot", Data: SnapshotEvent{Digest: s.Digest(), Keys: s.Keys()}}
}

func previewEvent(st preview.State) Event {
	return Event{Type: "preview", Data: st}
}

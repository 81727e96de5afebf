// Package push fans queue and status changes out to websocket subscribers.
package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event names.
const (
	EventQueue   = "esi:queue"
	EventStatus  = "esi:status"
	EventModules = "modules:changed"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Message is the wire envelope for every pushed event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	send chan []byte
}

// Hub tracks connected subscribers. A subscriber whose buffer is full is
// disconnected rather than blocking broadcasts.
type Hub struct {
	snapshot       func() []Message
	originPatterns []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. snapshot supplies the messages each new subscriber
// receives on connect.
func NewHub(snapshot func() []Message, originPatterns ...string) *Hub {
	return &Hub{
		snapshot:       snapshot,
		originPatterns: originPatterns,
		clients:        map[*client]struct{}{},
	}
}

// Broadcast sends an event to every subscriber.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		log.Printf("❌ [Push] Failed to encode %s: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("⚠️ [Push] Dropping slow subscriber")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until either side
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Printf("⚠️ [Push] Upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, sendBuffer)}
	if h.snapshot != nil {
		for _, m := range h.snapshot() {
			if payload, err := json.Marshal(m); err == nil {
				c.send <- payload
			}
		}
	}
	h.register(c)
	defer h.unregister(c)

	// Subscribers never send; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			if err := write(ctx, conn, payload); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[Push] Subscriber connected (%d total)", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

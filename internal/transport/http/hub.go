package http

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"io.eduverse/notifysync/internal/application"
	"io.eduverse/notifysync/internal/domain"
)

// Event names sent to local UIs.
const (
	EventConnected = "connected"
	EventState     = "state"
	EventPush      = "push"
	EventDismiss   = "dismiss"
)

// Event is one frame for local UIs. Over SSE it becomes "event: <Name>" plus
// a data line; over websocket it is sent as this JSON object.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload into an Event.
func NewEvent(name string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", name, err)
	}
	return Event{Name: name, Data: b}, nil
}

// Client is one connected UI stream.
type Client struct {
	id   string
	kind string // "sse" or "ws"
	send chan Event
}

// Hub fans events out to every connected UI. It is the bridge's push sink
// (application.Pusher) and a state observer of the SyncClient.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Register adds a client. The hub owns send from now on and closes it on Close.
func (h *Hub) Register(kind string, send chan Event) *Client {
	c := &Client{id: uuid.NewString(), kind: kind, send: send}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(send)
		return c
	}
	h.clients[c] = struct{}{}

	log.Debug().Str("client", c.id).Str("kind", kind).Msg("UI client connected")
	return c
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	log.Debug().Str("client", c.id).Str("kind", c.kind).Msg("UI client disconnected")
}

// Broadcast sends an event to every client without blocking; a client whose
// buffer is full misses the event.
func (h *Hub) Broadcast(name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.Warn().Str("client", c.id).Str("event", name).Msg("UI client send buffer full, skipping")
		}
	}
	return nil
}

func (h *Hub) Push(_ context.Context, p domain.Push) error {
	return h.Broadcast(EventPush, p)
}

func (h *Hub) Dismiss(_ context.Context, tag string) error {
	return h.Broadcast(EventDismiss, map[string]string{"tag": tag})
}

// Observe streams every state change. Pass it to SyncClient.Subscribe.
func (h *Hub) Observe(s application.Snapshot) {
	if err := h.Broadcast(EventState, s); err != nil {
		log.Error().Err(err).Msg("failed to broadcast state")
	}
}

// ConnectedCount returns the number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client by closing its channel. Later registrations
// are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// file: internal/realtime/events.go
// version: 2.1.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventSessionLogin     EventType = "session.login"
	EventSessionLogout    EventType = "session.logout"
	EventCacheFlushed     EventType = "cache.flushed"
	EventCacheInvalidated EventType = "cache.invalidated"
	EventSystemShutdown   EventType = "system.shutdown"
)

// Event represents a real-time event to send to clients
type Event struct {
	Type EventType `json:"type"`
	// Resource scopes the event; empty means it concerns every client.
	Resource  string         `json:"resource,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID        string
	Channel   chan *Event
	Resources map[string]bool // Resources this client is interested in
	mu        sync.RWMutex
}

// NewClient creates a new SSE client
func NewClient(id string) *Client {
	return &Client{
		ID:        id,
		Channel:   make(chan *Event, 100),
		Resources: make(map[string]bool),
	}
}

// Subscribe limits the client to events about resource (plus global ones).
func (c *Client) Subscribe(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resources[resource] = true
}

// Unsubscribe removes resource from the client's filter.
func (c *Client) Unsubscribe(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Resources, resource)
}

// Wants reports whether the client should receive e.
func (c *Client) Wants(e *Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return e.Resource == "" || len(c.Resources) == 0 || c.Resources[e.Resource]
}

// EventHub manages SSE connections and event distribution
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewEventHub creates a new event hub
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string]*Client),
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered", zap.String("client", client.ID), zap.Int("clients", len(h.clients)))
}

// UnregisterClient removes a client
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered", zap.String("client", clientID), zap.Int("clients", len(h.clients)))
	}
}

// Broadcast sends an event to every interested client. Clients whose buffer
// is full miss the event.
func (h *EventHub) Broadcast(event *Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, client := range h.clients {
		if !client.Wants(event) {
			continue
		}
		select {
		case client.Channel <- event:
			count++
		default:
			h.logger.Warn("sse client channel full, dropping event",
				zap.String("client", client.ID), zap.String("type", string(event.Type)))
		}
	}
	return count
}

// SendSession announces a login or logout.
func (h *EventHub) SendSession(t session.Transition) {
	typ := EventSessionLogout
	if t.Authenticated {
		typ = EventSessionLogin
	}
	h.Broadcast(&Event{
		Type:      typ,
		Timestamp: t.At,
		Data:      map[string]any{"reason": t.Reason},
	})
}

// SendCacheFlushed announces a full flush.
func (h *EventHub) SendCacheFlushed(removed int, reason string) {
	h.Broadcast(&Event{
		Type:      EventCacheFlushed,
		Timestamp: h.now(),
		Data:      map[string]any{"removed": removed, "reason": reason},
	})
}

// SendCacheInvalidated announces that entries of resource were dropped.
func (h *EventHub) SendCacheInvalidated(resource string, removed int) {
	h.Broadcast(&Event{
		Type:      EventCacheInvalidated,
		Resource:  resource,
		Timestamp: h.now(),
		Data:      map[string]any{"removed": removed},
	})
}

// SendShutdown tells clients the daemon is going away.
func (h *EventHub) SendShutdown() {
	h.Broadcast(&Event{
		Type:      EventSystemShutdown,
		Timestamp: h.now(),
		Data:      map[string]any{"message": "server is shutting down"},
	})
}

// AttachSession forwards hook transitions to clients. The returned function
// detaches it again.
func (h *EventHub) AttachSession(hook *session.Hook) func() {
	return hook.Subscribe(h.SendSession)
}

// GetClientCount returns the number of connected clients
func (h *EventHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HeartbeatInterval is how often idle SSE streams get a heartbeat.
var HeartbeatInterval = 15 * time.Second

// HandleSSE handles Server-Sent Events connection
func (h *EventHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := ulid.Make().String()
	client := NewClient(clientID)
	for _, resource := range c.QueryArray("resource") {
		client.Subscribe(resource)
	}

	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	h.write(c, map[string]any{
		"type":      "connection.established",
		"timestamp": h.now(),
		"data":      map[string]any{"client_id": clientID},
	})

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-client.Channel:
			if !h.write(c, event) {
				return
			}
		case <-ticker.C:
			h.write(c, map[string]any{"type": "heartbeat", "timestamp": h.now()})
		}
	}
}

func (h *EventHub) write(c *gin.Context, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return true
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		h.logger.Debug("sse write failed", zap.Error(err))
		return false
	}
	c.Writer.Flush()
	return true
}

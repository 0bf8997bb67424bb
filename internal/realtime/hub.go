package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Publisher publishes feed events to Redis for cross-instance broadcast.
type Publisher interface {
	PublishEvent(event string, payload []byte) error
}

// Subscriber subscribes to the shared feed channel and invokes handler for
// incoming events.
type Subscriber interface {
	Subscribe(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains the set of WebSocket clients watching the download feed and
// broadcasts pipeline events to them. With Redis configured, events published
// by one instance reach clients on every instance.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	pub     Publisher
	unsub   func()
}

// NewHub creates the feed hub. pub and sub may be nil for single-instance
// deployments without Redis.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		pub:     pub,
	}
	if sub != nil {
		cancel, err := sub.Subscribe(func(event string, payload []byte) {
			h.broadcastLocal(event, payload)
		})
		if err != nil {
			logger.Warn("feed subscription failed, cross-instance events disabled", zap.Error(err))
		} else {
			h.unsub = cancel
		}
	}
	return h
}

// Register adds a client to the feed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("feed client connected", zap.String("client_id", c.ID))
}

// Unregister removes a client from the feed.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.logger.Debug("feed client disconnected", zap.String("client_id", c.ID))
}

// Broadcast sends an event to every feed client. With an active Redis
// subscription the event is published only; the subscriber echoes it back to
// local clients, so they receive it exactly once. Implements the pipeline's
// Notifier capability.
func (h *Hub) Broadcast(event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	if h.pub != nil && h.unsub != nil {
		if err := h.pub.PublishEvent(event, data); err != nil {
			h.logger.Warn("publish feed event failed", zap.String("event", event), zap.Error(err))
			h.broadcastLocal(event, data)
		}
		return
	}
	h.broadcastLocal(event, data)
}

func (h *Hub) broadcastLocal(event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow consumer; drop the event rather than block the pipeline.
		}
	}
}

// Close cancels the Redis subscription.
func (h *Hub) Close() {
	if h.unsub != nil {
		h.unsub()
	}
}

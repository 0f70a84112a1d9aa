package ws

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callcore-backend/pkg/logger"
	"callcore-backend/pkg/metrics"
)

// Group name helpers. Every connection sits in its user's personal group;
// joinRoom additionally places it in the room group.
func userGroup(userID uuid.UUID) string { return "user:" + userID.String() }
func roomGroup(roomID string) string    { return "room:" + roomID }

// fanoutMessage is the redis mirror envelope for cross-node broadcast.
// Origin lets the publishing node skip its own echo. Socket exclusion is a
// local concern: an excluded socket only exists on the publishing node, so
// remote nodes deliver to every group member.
type fanoutMessage struct {
	Origin  string          `json:"origin"`
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages signaling connections and their broadcast groups
type Hub struct {
	// Registered clients per group
	groups map[string]map[*Client]bool

	// Cancel functions for redis group subscriptions
	subscriptionCancels map[string]context.CancelFunc

	// Redis client for Pub/Sub. Nil disables the cross-node mirror.
	redisClient *redis.Client

	// instanceID distinguishes this node's own redis messages
	instanceID string

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// Concurrency limit for concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}

	metrics *metrics.Metrics
}

// NewHub creates a new signaling hub
func NewHub(redisClient *redis.Client, m *metrics.Metrics) *Hub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &Hub{
		groups:              make(map[string]map[*Client]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		instanceID:          uuid.New().String(),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}
	if m != nil {
		hub.metrics = m
	}

	go hub.run()

	return hub
}

// run handles connection lifecycle
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.joinGroup(client, userGroup(client.userID))
			if h.metrics != nil {
				h.metrics.WebSocketConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			for group := range client.groups {
				h.leaveGroupLocked(client, group)
			}
			h.mu.Unlock()
			close(client.send)
			<-h.semaphore
			if h.metrics != nil {
				h.metrics.WebSocketDisconnected()
			}
		}
	}
}

// acquireSlot reserves a connection slot, reporting false at capacity
func (h *Hub) acquireSlot() bool {
	select {
	case h.semaphore <- struct{}{}:
		return true
	default:
		return false
	}
}

// joinGroup adds the client to a broadcast group, starting the redis mirror
// subscription on first local membership
func (h *Hub) joinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)

		if h.redisClient != nil {
			ctx, cancel := context.WithCancel(context.Background())
			h.subscriptionCancels[group] = cancel
			go h.subscribeGroup(ctx, group)
		}
	}
	h.groups[group][client] = true
	client.groups[group] = true
}

// leaveGroupLocked removes the client from a group; caller holds h.mu
func (h *Hub) leaveGroupLocked(client *Client, group string) {
	delete(client.groups, group)
	clients, ok := h.groups[group]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[group]; ok {
			cancel()
			delete(h.subscriptionCancels, group)
		}
		delete(h.groups, group)
	}
}

// Broadcast delivers a response to every group member on every node,
// excluding the given local client (nil excludes nobody). Exclusion is per
// socket, so another device of the same user still receives the message.
func (h *Hub) Broadcast(group string, exclude *Client, res *Response) {
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Error("failed to marshal broadcast payload",
			zap.String("event", res.Event),
			zap.Error(err))
		return
	}

	h.deliverLocal(group, exclude, res.Event, payload)

	if h.redisClient == nil {
		return
	}
	mirror, err := json.Marshal(fanoutMessage{
		Origin:  h.instanceID,
		Group:   group,
		Payload: payload,
	})
	if err != nil {
		return
	}
	if err := h.redisClient.Publish(context.Background(), "signal:"+group, mirror).Err(); err != nil {
		logger.Warn("failed to mirror broadcast to redis",
			zap.String("group", group),
			zap.Error(err))
	}
}

// deliverLocal fans a payload out to local group members. A client whose
// send buffer is full misses the message rather than stalling the hub.
func (h *Hub) deliverLocal(group string, exclude *Client, event string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.groups[group] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- payload:
			if h.metrics != nil {
				h.metrics.RecordWebSocketMessage(event, "out")
			}
		default:
			logger.Warn("client send buffer full, dropping message",
				zap.String("group", group),
				zap.String("user_id", client.userID.String()),
				zap.String("event", event))
		}
	}
}

// subscribeGroup relays mirrored broadcasts from other nodes
func (h *Hub) subscribeGroup(ctx context.Context, group string) {
	pubsub := h.redisClient.Subscribe(ctx, "signal:"+group)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("failed to subscribe to redis channel",
			zap.String("group", group),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var fan fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &fan); err != nil {
				logger.Warn("failed to unmarshal redis fanout message",
					zap.String("group", group),
					zap.Error(err))
				continue
			}
			if fan.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(fan.Group, nil, "", fan.Payload)
		}
	}
}

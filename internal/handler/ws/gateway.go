package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcore-backend/internal/domain"
	"callcore-backend/internal/events"
	"callcore-backend/internal/media"
	"callcore-backend/internal/room"
	apperrors "callcore-backend/pkg/errors"
	"callcore-backend/pkg/jwt"
	"callcore-backend/pkg/logger"
	"callcore-backend/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowed := os.Getenv("WS_ALLOWED_ORIGINS")
		if allowed == "" {
			// No allowlist configured: accept any origin (development)
			return true
		}
		origin := r.Header.Get("Origin")
		for _, candidate := range strings.Split(allowed, ",") {
			if origin == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	},
}

// RoomJoiner resolves and authorizes room membership for signaling. The call
// lifecycle service implements it.
type RoomJoiner interface {
	JoinRoom(ctx context.Context, roomID string, userID uuid.UUID) (*room.Room, error)
}

// Gateway is the signaling surface: it authenticates WebSocket connections,
// executes media signaling operations and relays call lifecycle events
type Gateway struct {
	hub        *Hub
	service    RoomJoiner
	registry   *room.Registry
	adapter    *media.Adapter
	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics
}

// NewGateway creates a new signaling gateway
func NewGateway(hub *Hub, service RoomJoiner, registry *room.Registry, adapter *media.Adapter, jwtManager *jwt.JWTManager, m *metrics.Metrics) *Gateway {
	return &Gateway{
		hub:        hub,
		service:    service,
		registry:   registry,
		adapter:    adapter,
		jwtManager: jwtManager,
		metrics:    m,
	}
}

// Run starts relaying lifecycle events from the bus to connected clients
func (g *Gateway) Run(bus *events.Bus) {
	ch, _ := bus.Subscribe()
	go func() {
		for event := range ch {
			g.relay(event)
		}
	}()
}

// relay routes a lifecycle event to personal groups (when targeted) or to
// everyone in the call's room group. Pushes carry colon-separated event names
// on the wire.
func (g *Gateway) relay(event domain.LifecycleEvent) {
	res := &Response{
		Event: strings.ReplaceAll(string(event.Name), ".", ":"),
		Data:  event,
	}

	if len(event.TargetUserIDs) > 0 {
		for _, target := range event.TargetUserIDs {
			g.hub.Broadcast(userGroup(target), nil, res)
		}
		return
	}
	g.hub.Broadcast(roomGroup(event.RoomID), nil, res)
}

// ServeWS authenticates and upgrades a signaling connection. The token is
// taken from the token query parameter or the Authorization header, since
// browser WebSocket clients cannot set custom headers.
func (g *Gateway) ServeWS(c *gin.Context) {
	if !g.hub.acquireSlot() {
		logger.Warn("websocket connection rejected: max connections reached",
			zap.Int("max_connections", g.hub.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}

	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		<-g.hub.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := g.jwtManager.Verify(token)
	if err != nil {
		<-g.hub.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.hub.semaphore
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		hub:     g.hub,
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  userID,
		groups:  make(map[string]bool),
	}

	g.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// handle executes one signaling operation and builds the correlated reply
func (g *Gateway) handle(c *Client, req Request) *Response {
	data, err := g.dispatch(c, req)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordWebSocketError(req.Event)
		}
		appErr := apperrors.GetAppError(err)
		if appErr.Code == apperrors.ErrCodeInternal {
			logger.Error("signaling operation failed",
				zap.String("event", req.Event),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
		return &Response{
			ID:    req.ID,
			Event: req.Event,
			Error: &ErrorDetail{Code: string(appErr.Code), Message: appErr.Message},
		}
	}
	return &Response{ID: req.ID, Event: req.Event, Data: data}
}

func (g *Gateway) dispatch(c *Client, req Request) (interface{}, error) {
	switch req.Event {
	case EventJoinRoom:
		return g.joinRoom(c, req.Data)
	case EventSetRTPCapabilities:
		return g.setRTPCapabilities(c, req.Data)
	case EventCreateWebRTCTransport:
		return g.createTransport(c, req.Data)
	case EventConnectWebRTCTransport:
		return g.connectTransport(c, req.Data)
	case EventProduce:
		return g.produce(c, req.Data)
	case EventConsume:
		return g.consume(c, req.Data)
	case EventResumeConsumer:
		return g.resumeConsumer(c, req.Data)
	case EventGetProducers:
		return g.getProducers(c, req.Data)
	case EventFinishJoining:
		return g.finishJoining(c, req.Data)
	default:
		return nil, apperrors.InvalidInputError("unknown event: " + req.Event)
	}
}

func (g *Gateway) joinRoom(c *Client, data json.RawMessage) (interface{}, error) {
	var payload joinRoomRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}

	if _, err := g.service.JoinRoom(context.Background(), payload.RoomID, c.userID); err != nil {
		return nil, err
	}
	g.hub.joinGroup(c, roomGroup(payload.RoomID))

	return joinRoomResponse{
		RTPCapabilities: g.adapter.GetRTPCapabilities(payload.RoomID),
	}, nil
}

func (g *Gateway) setRTPCapabilities(c *Client, data json.RawMessage) (interface{}, error) {
	var payload setRTPCapabilitiesRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" || len(payload.RTPCapabilities) == 0 {
		return nil, apperrors.ValidationError("roomId and rtpCapabilities are required")
	}

	r, err := g.registry.Get(payload.RoomID)
	if err != nil {
		return nil, err
	}
	if err := r.SetRTPCapabilities(c.userID, payload.RTPCapabilities); err != nil {
		return nil, err
	}
	return gin.H{"set": true}, nil
}

func (g *Gateway) createTransport(c *Client, data json.RawMessage) (interface{}, error) {
	var payload createTransportRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}
	if !payload.Direction.Valid() {
		return nil, apperrors.ValidationError("direction must be send or recv")
	}

	opts, err := g.adapter.CreateWebRTCTransport(payload.RoomID, c.userID, payload.Direction)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.TransportCreated(string(payload.Direction))
	}
	return opts, nil
}

func (g *Gateway) connectTransport(c *Client, data json.RawMessage) (interface{}, error) {
	var payload connectTransportRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}
	if !payload.Direction.Valid() {
		return nil, apperrors.ValidationError("direction must be send or recv")
	}

	if err := g.adapter.ConnectWebRTCTransport(payload.RoomID, c.userID, payload.Direction, payload.DTLSParameters); err != nil {
		return nil, err
	}
	return gin.H{"connected": true}, nil
}

func (g *Gateway) produce(c *Client, data json.RawMessage) (interface{}, error) {
	var payload produceRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}
	if !payload.Kind.Valid() {
		return nil, apperrors.ValidationError("kind must be audio or video")
	}
	if len(payload.RTPParameters) == 0 {
		return nil, apperrors.ValidationError("rtpParameters are required")
	}

	producer, err := g.adapter.CreateProducer(payload.RoomID, c.userID, media.ProducerOptions{
		Kind:          payload.Kind,
		RTPParameters: payload.RTPParameters,
		AppData:       payload.AppData,
	})
	if err != nil {
		return nil, err
	}

	if r, regErr := g.registry.Get(payload.RoomID); regErr == nil {
		if err := r.AddProducer(c.userID, producer.ID); err != nil {
			logger.Warn("failed to track producer in room",
				zap.String("room_id", payload.RoomID),
				zap.Error(err))
		}
	}
	if g.metrics != nil {
		g.metrics.ProducerCreated(string(payload.Kind))
	}

	g.hub.Broadcast(roomGroup(payload.RoomID), c, &Response{
		Event: EventNewProducer,
		Data: newProducerPush{
			ProducerID: producer.ID,
			UserID:     c.userID,
			Kind:       producer.Kind,
		},
	})

	return produceResponse{ID: producer.ID}, nil
}

func (g *Gateway) consume(c *Client, data json.RawMessage) (interface{}, error) {
	var payload consumeRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" || payload.ProducerID == "" {
		return nil, apperrors.ValidationError("roomId and producerId are required")
	}

	r, err := g.registry.Get(payload.RoomID)
	if err != nil {
		return nil, err
	}
	caps, err := r.RTPCapabilities(c.userID)
	if err != nil {
		return nil, err
	}
	if len(caps) == 0 {
		return nil, apperrors.ValidationError("rtp capabilities must be set before consuming")
	}

	consumer, err := g.adapter.CreateConsumer(payload.RoomID, c.userID, payload.ProducerID, caps)
	if err != nil {
		return nil, err
	}
	if err := r.AddConsumer(c.userID, consumer.ID); err != nil {
		logger.Warn("failed to track consumer in room",
			zap.String("room_id", payload.RoomID),
			zap.Error(err))
	}
	if g.metrics != nil {
		g.metrics.ConsumerCreated(string(consumer.Kind))
	}

	return consumeResponse{
		ID:            consumer.ID,
		ProducerID:    consumer.ProducerID,
		Kind:          consumer.Kind,
		RTPParameters: consumer.RTPParameters,
	}, nil
}

func (g *Gateway) resumeConsumer(c *Client, data json.RawMessage) (interface{}, error) {
	var payload resumeConsumerRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConsumerID == "" {
		return nil, apperrors.ValidationError("consumerId is required")
	}
	if err := g.adapter.ResumeConsumer(payload.ConsumerID); err != nil {
		return nil, err
	}
	return gin.H{"resumed": true}, nil
}

func (g *Gateway) getProducers(c *Client, data json.RawMessage) (interface{}, error) {
	var payload getProducersRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}

	r, err := g.registry.Get(payload.RoomID)
	if err != nil {
		return nil, err
	}

	producers := []producerInfo{}
	for _, p := range r.OtherParticipants(c.userID) {
		for _, producerID := range p.ProducerIDs {
			producers = append(producers, producerInfo{
				ProducerID: producerID,
				UserID:     p.UserID,
			})
		}
	}
	return producers, nil
}

func (g *Gateway) finishJoining(c *Client, data json.RawMessage) (interface{}, error) {
	var payload finishJoiningRequest
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return nil, apperrors.ValidationError("roomId is required")
	}

	r, err := g.registry.Get(payload.RoomID)
	if err != nil {
		return nil, err
	}
	if err := r.MarkJoined(c.userID); err != nil {
		return nil, err
	}

	g.hub.Broadcast(roomGroup(payload.RoomID), c, &Response{
		Event: EventParticipantJoined,
		Data:  participantJoinedPush{UserID: c.userID},
	})

	return gin.H{"joined": true}, nil
}

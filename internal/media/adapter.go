package media

import (
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callcore-backend/pkg/config"
	apperrors "callcore-backend/pkg/errors"
	"callcore-backend/pkg/logger"
)

// Router is the media-engine object scoped to one room. It owns the room's
// codec capability set and every transport/producer/consumer in the room.
type Router struct {
	RoomID       string
	Worker       *Worker
	Capabilities RTPCapabilities
}

// ProducerOptions carries the client-provided parameters for a new producer
type ProducerOptions struct {
	Kind          Kind
	RTPParameters json.RawMessage
	AppData       map[string]interface{}
}

// Adapter wraps the fixed worker pool and provides per-room routing
// primitives. The registry maps are guarded only for insert/lookup;
// per-entity state carries its own synchronization so unrelated rooms never
// serialize on each other.
type Adapter struct {
	cfg     config.MediaConfig
	workers []*Worker
	exit    func(code int)

	mu         sync.RWMutex
	rrIndex    int
	nextPort   int
	routers    map[string]*Router
	transports map[TransportKey]*WebRTCTransport
	producers  map[string]*Producer
	consumers  map[string]*Consumer
}

// NewAdapter creates an adapter with one worker per CPU core
func NewAdapter(cfg config.MediaConfig) *Adapter {
	return NewAdapterWithWorkers(cfg, runtime.NumCPU())
}

// NewAdapterWithWorkers creates an adapter with an explicit pool size
func NewAdapterWithWorkers(cfg config.MediaConfig, workerCount int) *Adapter {
	return &Adapter{
		cfg:        cfg,
		workers:    NewWorkerPool(workerCount),
		exit:       os.Exit,
		nextPort:   cfg.RTCMinPort,
		routers:    make(map[string]*Router),
		transports: make(map[TransportKey]*WebRTCTransport),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
}

// Start begins watching the worker pool. A dying worker is fatal: mid-call
// recovery is not attempted, the process exits after a grace delay so an
// external supervisor restarts it.
func (a *Adapter) Start() {
	for _, w := range a.workers {
		go func(w *Worker) {
			<-w.Died()
			logger.Error("media worker died, exiting process",
				zap.Int("worker_id", w.ID),
				zap.Duration("grace", a.cfg.WorkerExitGrace))
			time.Sleep(a.cfg.WorkerExitGrace)
			a.exit(1)
		}(w)
	}
	logger.Info("media engine started", zap.Int("workers", len(a.workers)))
}

// WorkerCount returns the size of the worker pool
func (a *Adapter) WorkerCount() int {
	return len(a.workers)
}

// CreateRouter returns the room's router, creating it on the next worker by
// round-robin if absent. Idempotent under concurrent calls: the first caller
// wins and later callers observe the already-created router.
func (a *Adapter) CreateRouter(roomID string) *Router {
	a.mu.Lock()
	defer a.mu.Unlock()

	if router, ok := a.routers[roomID]; ok {
		return router
	}

	worker := a.workers[a.rrIndex%len(a.workers)]
	a.rrIndex++
	worker.routerCount.Add(1)

	router := &Router{
		RoomID:       roomID,
		Worker:       worker,
		Capabilities: DefaultRTPCapabilities(),
	}
	a.routers[roomID] = router

	logger.Info("router created",
		zap.String("room_id", roomID),
		zap.Int("worker_id", worker.ID))
	return router
}

// GetRouter returns the room's router or a not-found error
func (a *Adapter) GetRouter(roomID string) (*Router, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	router, ok := a.routers[roomID]
	if !ok {
		return nil, apperrors.NotFoundError("Router")
	}
	return router, nil
}

// GetRTPCapabilities returns the room's capability set, lazily creating the
// router if it does not yet exist
func (a *Adapter) GetRTPCapabilities(roomID string) RTPCapabilities {
	return a.CreateRouter(roomID).Capabilities
}

// CreateWebRTCTransport creates a transport under (room, user, direction).
// The room's router must already exist. An existing transport under the same
// key is replaced.
func (a *Adapter) CreateWebRTCTransport(roomID string, userID uuid.UUID, direction Direction) (TransportOptions, error) {
	if !direction.Valid() {
		return TransportOptions{}, apperrors.ValidationError("invalid transport direction")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.routers[roomID]; !ok {
		return TransportOptions{}, apperrors.NotFoundError("Router")
	}

	key := TransportKey{RoomID: roomID, UserID: userID, Direction: direction}
	if old, ok := a.transports[key]; ok {
		a.removeTransportLocked(old)
	}

	port := a.nextPort
	a.nextPort++
	if a.nextPort > a.cfg.RTCMaxPort {
		a.nextPort = a.cfg.RTCMinPort
	}

	// Candidates advertise the announced IP; without one, clients connect
	// straight to the listen address
	announcedIP := a.cfg.AnnouncedIP
	if announcedIP == "" {
		announcedIP = a.cfg.ListenIP
	}

	transport := &WebRTCTransport{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		Direction: direction,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: randomHex(8),
			Password:         randomHex(16),
			ICELite:          true,
		},
		ICECandidates: []ICECandidate{
			{
				Foundation: "udpcandidate",
				IP:         announcedIP,
				Port:       port,
				Protocol:   "udp",
				Type:       "host",
			},
		},
		DTLSParameters: DTLSParameters{
			Role:         "auto",
			Fingerprints: []webrtc.DTLSFingerprint{randomFingerprint()},
		},
		InitialAvailableOutgoingBitrate: a.cfg.InitialAvailableOutgoingBitrate,
	}
	a.transports[key] = transport

	logger.Debug("transport created",
		zap.String("transport_id", transport.ID),
		zap.String("room_id", roomID),
		zap.String("user_id", userID.String()),
		zap.String("direction", string(direction)))
	return transport.Options(), nil
}

// ConnectWebRTCTransport completes the DTLS handshake parameters for a
// transport looked up by (room, user, direction)
func (a *Adapter) ConnectWebRTCTransport(roomID string, userID uuid.UUID, direction Direction, remoteDTLS json.RawMessage) error {
	a.mu.RLock()
	transport, ok := a.transports[TransportKey{RoomID: roomID, UserID: userID, Direction: direction}]
	a.mu.RUnlock()

	if !ok {
		return apperrors.NotFoundError("Transport")
	}

	transport.Connect(remoteDTLS)
	return nil
}

// CreateProducer creates a producer on the user's send transport, tagged
// with room and user in its application data
func (a *Adapter) CreateProducer(roomID string, userID uuid.UUID, opts ProducerOptions) (*Producer, error) {
	if !opts.Kind.Valid() {
		return nil, apperrors.ValidationError("invalid media kind")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	transport, ok := a.transports[TransportKey{RoomID: roomID, UserID: userID, Direction: DirectionSend}]
	if !ok {
		return nil, apperrors.NotFoundError("Send transport")
	}

	appData := make(map[string]interface{}, len(opts.AppData)+2)
	for k, v := range opts.AppData {
		appData[k] = v
	}
	appData["roomId"] = roomID
	appData["userId"] = userID.String()

	producer := &Producer{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		UserID:        userID,
		Kind:          opts.Kind,
		TransportID:   transport.ID,
		RTPParameters: opts.RTPParameters,
		AppData:       appData,
	}
	a.producers[producer.ID] = producer

	logger.Debug("producer created",
		zap.String("producer_id", producer.ID),
		zap.String("room_id", roomID),
		zap.String("user_id", userID.String()),
		zap.String("kind", string(opts.Kind)))
	return producer, nil
}

// CreateConsumer creates a paused consumer forwarding producerID to
// consumerUserID. The room's router must certify codec compatibility and the
// consuming user must hold a recv transport. The caller resumes the consumer
// once its client is ready.
func (a *Adapter) CreateConsumer(roomID string, consumerUserID uuid.UUID, producerID string, remoteCapabilities json.RawMessage) (*Consumer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.routers[roomID]; !ok {
		return nil, apperrors.NotFoundError("Router")
	}

	producer, ok := a.producers[producerID]
	if !ok {
		return nil, apperrors.NotFoundError("Producer")
	}

	if !canConsume(producer.RTPParameters, remoteCapabilities) {
		return nil, apperrors.MediaEngineError("cannot consume")
	}

	transport, ok := a.transports[TransportKey{RoomID: roomID, UserID: consumerUserID, Direction: DirectionRecv}]
	if !ok {
		return nil, apperrors.NotFoundError("Recv transport")
	}

	consumer := &Consumer{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		UserID:        consumerUserID,
		ProducerID:    producer.ID,
		Kind:          producer.Kind,
		TransportID:   transport.ID,
		RTPParameters: producer.RTPParameters,
		paused:        true,
	}
	a.consumers[consumer.ID] = consumer

	logger.Debug("consumer created",
		zap.String("consumer_id", consumer.ID),
		zap.String("producer_id", producer.ID),
		zap.String("room_id", roomID),
		zap.String("user_id", consumerUserID.String()))
	return consumer, nil
}

// ResumeConsumer unpauses a consumer
func (a *Adapter) ResumeConsumer(consumerID string) error {
	a.mu.RLock()
	consumer, ok := a.consumers[consumerID]
	a.mu.RUnlock()

	if !ok {
		return apperrors.NotFoundError("Consumer")
	}

	consumer.Resume()
	return nil
}

// GetProducer returns a producer by id
func (a *Adapter) GetProducer(producerID string) (*Producer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	producer, ok := a.producers[producerID]
	if !ok {
		return nil, apperrors.NotFoundError("Producer")
	}
	return producer, nil
}

// CloseProducer closes a producer and every consumer fed by it
func (a *Adapter) CloseProducer(producerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.producers[producerID]; !ok {
		return apperrors.NotFoundError("Producer")
	}
	delete(a.producers, producerID)

	for id, consumer := range a.consumers {
		if consumer.ProducerID == producerID {
			delete(a.consumers, id)
		}
	}
	return nil
}

// CloseConsumer closes a consumer
func (a *Adapter) CloseConsumer(consumerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.consumers[consumerID]; !ok {
		return apperrors.NotFoundError("Consumer")
	}
	delete(a.consumers, consumerID)
	return nil
}

// CloseTransport closes the transport under (room, user, direction) and
// deregisters every producer/consumer riding on it
func (a *Adapter) CloseTransport(roomID string, userID uuid.UUID, direction Direction) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := TransportKey{RoomID: roomID, UserID: userID, Direction: direction}
	transport, ok := a.transports[key]
	if !ok {
		return apperrors.NotFoundError("Transport")
	}
	a.removeTransportLocked(transport)
	delete(a.transports, key)
	return nil
}

// CloseUserTransports closes both of a user's transports in a room, if any
func (a *Adapter) CloseUserTransports(roomID string, userID uuid.UUID) {
	for _, direction := range []Direction{DirectionSend, DirectionRecv} {
		// Missing transports are fine during teardown races
		_ = a.CloseTransport(roomID, userID, direction)
	}
}

// CloseRouter closes the room's router, cascading to every transport,
// producer, and consumer scoped to the room
func (a *Adapter) CloseRouter(roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	router, ok := a.routers[roomID]
	if !ok {
		return apperrors.NotFoundError("Router")
	}
	delete(a.routers, roomID)
	router.Worker.routerCount.Add(-1)

	for key := range a.transports {
		if key.RoomID == roomID {
			delete(a.transports, key)
		}
	}
	for id, producer := range a.producers {
		if producer.RoomID == roomID {
			delete(a.producers, id)
		}
	}
	for id, consumer := range a.consumers {
		if consumer.RoomID == roomID {
			delete(a.consumers, id)
		}
	}

	logger.Info("router closed", zap.String("room_id", roomID))
	return nil
}

// removeTransportLocked deregisters a transport's producers and consumers.
// Callers must hold a.mu.
func (a *Adapter) removeTransportLocked(transport *WebRTCTransport) {
	for id, producer := range a.producers {
		if producer.TransportID == transport.ID {
			delete(a.producers, id)
			for cid, consumer := range a.consumers {
				if consumer.ProducerID == id {
					delete(a.consumers, cid)
				}
			}
		}
	}
	for id, consumer := range a.consumers {
		if consumer.TransportID == transport.ID {
			delete(a.consumers, id)
		}
	}
}

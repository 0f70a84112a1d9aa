package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore-backend/internal/domain"
	"callcore-backend/internal/media"
	"callcore-backend/internal/room"
	"callcore-backend/pkg/config"
	apperrors "callcore-backend/pkg/errors"
	"callcore-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

type stubJoiner struct {
	registry *room.Registry
	err      error
}

func (s *stubJoiner) JoinRoom(ctx context.Context, roomID string, userID uuid.UUID) (*room.Room, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := s.registry.Create(roomID, uuid.New())
	r.AddParticipant(userID)
	return r, nil
}

type wsFixture struct {
	hub      *Hub
	gateway  *Gateway
	registry *room.Registry
	adapter  *media.Adapter
	joiner   *stubJoiner
}

func newWSFixture() *wsFixture {
	registry := room.NewRegistry()
	adapter := media.NewAdapterWithWorkers(config.MediaConfig{
		ListenIP:        "0.0.0.0",
		AnnouncedIP:     "127.0.0.1",
		RTCMinPort:      40000,
		RTCMaxPort:      40010,
		WorkerExitGrace: 10 * time.Millisecond,
	}, 1)
	hub := NewHub(nil, nil)
	joiner := &stubJoiner{registry: registry}
	return &wsFixture{
		hub:      hub,
		gateway:  NewGateway(hub, joiner, registry, adapter, nil, nil),
		registry: registry,
		adapter:  adapter,
		joiner:   joiner,
	}
}

func (f *wsFixture) newClient(userID uuid.UUID) *Client {
	return &Client{
		hub:     f.hub,
		gateway: f.gateway,
		send:    make(chan []byte, 16),
		userID:  userID,
		groups:  make(map[string]bool),
	}
}

func receivedPush(t *testing.T, c *Client) Response {
	t.Helper()
	select {
	case payload := <-c.send:
		var res Response
		require.NoError(t, json.Unmarshal(payload, &res))
		return res
	default:
		t.Fatal("expected a pushed message")
		return Response{}
	}
}

func request(id, event, data string) Request {
	return Request{ID: id, Event: event, Data: json.RawMessage(data)}
}

func TestHandleUnknownEvent(t *testing.T) {
	f := newWSFixture()
	c := f.newClient(uuid.New())

	res := f.gateway.handle(c, request("1", "teleport", `{}`))

	require.NotNil(t, res.Error)
	assert.Equal(t, "1", res.ID)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), res.Error.Code)
}

func TestJoinRoomAddsClientToGroup(t *testing.T) {
	f := newWSFixture()
	c := f.newClient(uuid.New())

	res := f.gateway.handle(c, request("7", EventJoinRoom, `{"roomId":"room-1"}`))

	require.Nil(t, res.Error)
	assert.Equal(t, "7", res.ID)
	assert.True(t, c.groups[roomGroup("room-1")])

	data, ok := res.Data.(joinRoomResponse)
	require.True(t, ok)
	assert.NotEmpty(t, data.RTPCapabilities.Codecs)
}

func TestJoinRoomDenied(t *testing.T) {
	f := newWSFixture()
	f.joiner.err = apperrors.ForbiddenError("you are not a party to this call")
	c := f.newClient(uuid.New())

	res := f.gateway.handle(c, request("7", EventJoinRoom, `{"roomId":"room-1"}`))

	require.NotNil(t, res.Error)
	assert.Equal(t, string(apperrors.ErrCodeForbidden), res.Error.Code)
	assert.False(t, c.groups[roomGroup("room-1")])
}

func TestCreateAndConnectTransport(t *testing.T) {
	f := newWSFixture()
	c := f.newClient(uuid.New())
	f.gateway.handle(c, request("1", EventJoinRoom, `{"roomId":"room-1"}`))

	res := f.gateway.handle(c, request("2", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"send"}`))
	require.Nil(t, res.Error)
	opts, ok := res.Data.(media.TransportOptions)
	require.True(t, ok)
	assert.NotEmpty(t, opts.ID)

	res = f.gateway.handle(c, request("3", EventConnectWebRTCTransport, `{"roomId":"room-1","direction":"send","dtlsParameters":{"role":"client"}}`))
	assert.Nil(t, res.Error)

	res = f.gateway.handle(c, request("4", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"sideways"}`))
	require.NotNil(t, res.Error)
	assert.Equal(t, string(apperrors.ErrCodeValidation), res.Error.Code)
}

func TestProducePushesNewProducerToPeers(t *testing.T) {
	f := newWSFixture()
	producer := f.newClient(uuid.New())
	peer := f.newClient(uuid.New())
	f.gateway.handle(producer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.gateway.handle(peer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.hub.joinGroup(producer, roomGroup("room-1"))
	f.hub.joinGroup(peer, roomGroup("room-1"))

	f.gateway.handle(producer, request("2", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"send"}`))
	res := f.gateway.handle(producer, request("3", EventProduce,
		`{"roomId":"room-1","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus"}]}}`))

	require.Nil(t, res.Error)
	reply, ok := res.Data.(produceResponse)
	require.True(t, ok)
	assert.NotEmpty(t, reply.ID)

	push := receivedPush(t, peer)
	assert.Equal(t, EventNewProducer, push.Event)
	assert.Empty(t, push.ID)

	// The producing client must not receive its own push
	select {
	case <-producer.send:
		t.Fatal("producer received its own newProducer push")
	default:
	}
}

func TestProducePushReachesSameUserOtherSockets(t *testing.T) {
	f := newWSFixture()
	userID := uuid.New()
	producer := f.newClient(userID)
	secondDevice := f.newClient(userID)
	f.gateway.handle(producer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.hub.joinGroup(producer, roomGroup("room-1"))
	f.hub.joinGroup(secondDevice, roomGroup("room-1"))

	f.gateway.handle(producer, request("2", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"send"}`))
	res := f.gateway.handle(producer, request("3", EventProduce,
		`{"roomId":"room-1","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus"}]}}`))
	require.Nil(t, res.Error)

	// Only the producing socket is excluded, not the whole user
	push := receivedPush(t, secondDevice)
	assert.Equal(t, EventNewProducer, push.Event)

	select {
	case <-producer.send:
		t.Fatal("producing socket received its own newProducer push")
	default:
	}
}

func TestConsumeRequiresStoredCapabilities(t *testing.T) {
	f := newWSFixture()
	producer := f.newClient(uuid.New())
	consumer := f.newClient(uuid.New())
	f.gateway.handle(producer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.gateway.handle(consumer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))

	f.gateway.handle(producer, request("2", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"send"}`))
	produced := f.gateway.handle(producer, request("3", EventProduce,
		`{"roomId":"room-1","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus"}]}}`))
	producerID := produced.Data.(produceResponse).ID

	f.gateway.handle(consumer, request("4", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"recv"}`))

	res := f.gateway.handle(consumer, request("5", EventConsume,
		`{"roomId":"room-1","producerId":"`+producerID+`"}`))
	require.NotNil(t, res.Error)
	assert.Equal(t, string(apperrors.ErrCodeValidation), res.Error.Code)

	f.gateway.handle(consumer, request("6", EventSetRTPCapabilities,
		`{"roomId":"room-1","rtpCapabilities":{"codecs":[{"mimeType":"audio/opus"}]}}`))

	res = f.gateway.handle(consumer, request("7", EventConsume,
		`{"roomId":"room-1","producerId":"`+producerID+`"}`))
	require.Nil(t, res.Error)
	reply := res.Data.(consumeResponse)
	assert.Equal(t, producerID, reply.ProducerID)
	assert.Equal(t, media.KindAudio, reply.Kind)

	res = f.gateway.handle(consumer, request("8", EventResumeConsumer,
		`{"consumerId":"`+reply.ID+`"}`))
	assert.Nil(t, res.Error)
}

func TestGetProducersListsJoinedPeersOnly(t *testing.T) {
	f := newWSFixture()
	producer := f.newClient(uuid.New())
	lurker := f.newClient(uuid.New())
	viewer := f.newClient(uuid.New())
	f.gateway.handle(producer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.gateway.handle(lurker, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.gateway.handle(viewer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))

	f.gateway.handle(producer, request("2", EventCreateWebRTCTransport, `{"roomId":"room-1","direction":"send"}`))
	f.gateway.handle(producer, request("3", EventProduce,
		`{"roomId":"room-1","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus"}]}}`))

	// Only participants that finished joining are visible
	res := f.gateway.handle(viewer, request("4", EventGetProducers, `{"roomId":"room-1"}`))
	require.Nil(t, res.Error)
	assert.Empty(t, res.Data.([]producerInfo))

	f.gateway.handle(producer, request("5", EventFinishJoining, `{"roomId":"room-1"}`))

	res = f.gateway.handle(viewer, request("6", EventGetProducers, `{"roomId":"room-1"}`))
	require.Nil(t, res.Error)
	producers := res.Data.([]producerInfo)
	require.Len(t, producers, 1)
	assert.Equal(t, producer.userID, producers[0].UserID)
}

func TestFinishJoiningNotifiesRoom(t *testing.T) {
	f := newWSFixture()
	joiner := f.newClient(uuid.New())
	peer := f.newClient(uuid.New())
	f.gateway.handle(joiner, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.gateway.handle(peer, request("1", EventJoinRoom, `{"roomId":"room-1"}`))
	f.hub.joinGroup(peer, roomGroup("room-1"))

	res := f.gateway.handle(joiner, request("2", EventFinishJoining, `{"roomId":"room-1"}`))

	require.Nil(t, res.Error)
	push := receivedPush(t, peer)
	assert.Equal(t, EventParticipantJoined, push.Event)
}

func TestRelayTargetedEvent(t *testing.T) {
	f := newWSFixture()
	initiator := f.newClient(uuid.New())
	receiver := f.newClient(uuid.New())
	f.hub.joinGroup(initiator, userGroup(initiator.userID))
	f.hub.joinGroup(receiver, userGroup(receiver.userID))

	f.gateway.relay(domain.LifecycleEvent{
		Name:          domain.EventCallIncoming,
		CallID:        uuid.New(),
		InitiatorID:   initiator.userID,
		RoomID:        "room-1",
		TargetUserIDs: []uuid.UUID{receiver.userID},
	})

	push := receivedPush(t, receiver)
	assert.Equal(t, "call:incoming", push.Event)

	select {
	case <-initiator.send:
		t.Fatal("initiator should not receive a targeted incoming event")
	default:
	}
}

func TestRelayRoomScopedEventReachesEveryone(t *testing.T) {
	f := newWSFixture()
	actor := f.newClient(uuid.New())
	peer := f.newClient(uuid.New())
	f.hub.joinGroup(actor, roomGroup("room-1"))
	f.hub.joinGroup(peer, roomGroup("room-1"))

	actorID := actor.userID
	f.gateway.relay(domain.LifecycleEvent{
		Name:   domain.EventCallParticipantJoined,
		CallID: uuid.New(),
		UserID: &actorID,
		RoomID: "room-1",
	})

	// Room-scoped lifecycle events go to every socket in the room, the
	// acting user's included
	assert.Equal(t, "call:participant:joined", receivedPush(t, peer).Event)
	assert.Equal(t, "call:participant:joined", receivedPush(t, actor).Event)
}

func TestBroadcastToEmptyGroupIsNoop(t *testing.T) {
	f := newWSFixture()

	assert.NotPanics(t, func() {
		f.hub.Broadcast(roomGroup("ghost"), nil, &Response{Event: EventNewProducer})
	})
}

package media

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore-backend/pkg/config"
	"callcore-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

func testConfig() config.MediaConfig {
	return config.MediaConfig{
		ListenIP:                        "0.0.0.0",
		AnnouncedIP:                     "127.0.0.1",
		RTCMinPort:                      40000,
		RTCMaxPort:                      40010,
		InitialAvailableOutgoingBitrate: 1000000,
		WorkerExitGrace:                 10 * time.Millisecond,
	}
}

const opusParams = `{"codecs":[{"mimeType":"audio/opus","clockRate":48000}]}`
const opusCaps = `{"codecs":[{"mimeType":"audio/opus"},{"mimeType":"video/VP8"}]}`
const vp9OnlyCaps = `{"codecs":[{"mimeType":"video/VP9"}]}`

func TestCreateRouterIsIdempotent(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 2)

	first := adapter.CreateRouter("room-1")
	second := adapter.CreateRouter("room-1")

	assert.Same(t, first, second)
}

func TestCreateRouterIdempotentUnderConcurrency(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 2)

	routers := make([]*Router, 20)
	var wg sync.WaitGroup
	for i := range routers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			routers[i] = adapter.CreateRouter("room-1")
		}(i)
	}
	wg.Wait()

	for _, r := range routers[1:] {
		assert.Same(t, routers[0], r)
	}
}

func TestCreateRouterRoundRobinAcrossWorkers(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 2)

	a := adapter.CreateRouter("room-a")
	b := adapter.CreateRouter("room-b")
	c := adapter.CreateRouter("room-c")

	assert.NotEqual(t, a.Worker.ID, b.Worker.ID)
	assert.Equal(t, a.Worker.ID, c.Worker.ID)
	assert.Equal(t, int64(2), a.Worker.RouterCount())
}

func TestRouterCapabilities(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)

	caps := adapter.GetRTPCapabilities("room-1")

	// Lazily created router with at least one audio and one video codec
	require.NotEmpty(t, caps.Codecs)
	var hasAudio, hasVideo bool
	for _, c := range caps.Codecs {
		switch c.MimeType[:5] {
		case "audio":
			hasAudio = true
		case "video":
			hasVideo = true
		}
	}
	assert.True(t, hasAudio)
	assert.True(t, hasVideo)
}

func TestCreateTransportRequiresRouter(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)

	_, err := adapter.CreateWebRTCTransport("room-1", uuid.New(), DirectionSend)

	assert.Error(t, err)
}

func TestTransportLifecycle(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	adapter.CreateRouter("room-1")
	userID := uuid.New()

	opts, err := adapter.CreateWebRTCTransport("room-1", userID, DirectionSend)
	require.NoError(t, err)
	assert.NotEmpty(t, opts.ID)
	assert.NotEmpty(t, opts.ICEParameters.UsernameFragment)
	require.Len(t, opts.ICECandidates, 1)
	assert.Equal(t, "127.0.0.1", opts.ICECandidates[0].IP)
	require.NotEmpty(t, opts.DTLSParameters.Fingerprints)

	assert.Equal(t, 1000000, opts.InitialAvailableOutgoingBitrate)

	err = adapter.ConnectWebRTCTransport("room-1", userID, DirectionSend, json.RawMessage(`{"role":"client"}`))
	assert.NoError(t, err)

	// Connecting a missing transport fails
	err = adapter.ConnectWebRTCTransport("room-1", userID, DirectionRecv, nil)
	assert.Error(t, err)

	assert.NoError(t, adapter.CloseTransport("room-1", userID, DirectionSend))
	assert.Error(t, adapter.CloseTransport("room-1", userID, DirectionSend))
}

func TestTransportAnnouncesListenIPWhenNoAnnouncedIP(t *testing.T) {
	cfg := testConfig()
	cfg.AnnouncedIP = ""
	cfg.ListenIP = "10.0.0.5"
	cfg.InitialAvailableOutgoingBitrate = 600000
	adapter := NewAdapterWithWorkers(cfg, 1)
	adapter.CreateRouter("room-1")

	opts, err := adapter.CreateWebRTCTransport("room-1", uuid.New(), DirectionSend)

	require.NoError(t, err)
	require.Len(t, opts.ICECandidates, 1)
	assert.Equal(t, "10.0.0.5", opts.ICECandidates[0].IP)
	assert.Equal(t, 600000, opts.InitialAvailableOutgoingBitrate)
}

func TestCreateProducerRequiresSendTransport(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	adapter.CreateRouter("room-1")

	_, err := adapter.CreateProducer("room-1", uuid.New(), ProducerOptions{
		Kind:          KindAudio,
		RTPParameters: json.RawMessage(opusParams),
	})

	assert.Error(t, err)
}

func TestProducerTaggedWithRoomAndUser(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	adapter.CreateRouter("room-1")
	userID := uuid.New()

	_, err := adapter.CreateWebRTCTransport("room-1", userID, DirectionSend)
	require.NoError(t, err)

	producer, err := adapter.CreateProducer("room-1", userID, ProducerOptions{
		Kind:          KindAudio,
		RTPParameters: json.RawMessage(opusParams),
		AppData:       map[string]interface{}{"source": "mic"},
	})
	require.NoError(t, err)

	assert.Equal(t, "room-1", producer.AppData["roomId"])
	assert.Equal(t, userID.String(), producer.AppData["userId"])
	assert.Equal(t, "mic", producer.AppData["source"])
}

func setupProducer(t *testing.T, adapter *Adapter, roomID string) (*Producer, uuid.UUID) {
	t.Helper()
	producerUser := uuid.New()
	adapter.CreateRouter(roomID)
	_, err := adapter.CreateWebRTCTransport(roomID, producerUser, DirectionSend)
	require.NoError(t, err)
	producer, err := adapter.CreateProducer(roomID, producerUser, ProducerOptions{
		Kind:          KindAudio,
		RTPParameters: json.RawMessage(opusParams),
	})
	require.NoError(t, err)
	return producer, producerUser
}

func TestConsumerStartsPausedAndResumes(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	producer, _ := setupProducer(t, adapter, "room-1")

	consumerUser := uuid.New()
	_, err := adapter.CreateWebRTCTransport("room-1", consumerUser, DirectionRecv)
	require.NoError(t, err)

	consumer, err := adapter.CreateConsumer("room-1", consumerUser, producer.ID, json.RawMessage(opusCaps))
	require.NoError(t, err)

	assert.True(t, consumer.Paused())
	assert.NoError(t, adapter.ResumeConsumer(consumer.ID))
	assert.False(t, consumer.Paused())
}

func TestConsumeIncompatibleCapabilities(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	producer, _ := setupProducer(t, adapter, "room-1")

	consumerUser := uuid.New()
	_, err := adapter.CreateWebRTCTransport("room-1", consumerUser, DirectionRecv)
	require.NoError(t, err)

	_, err = adapter.CreateConsumer("room-1", consumerUser, producer.ID, json.RawMessage(vp9OnlyCaps))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot consume")
}

func TestConsumeRequiresRecvTransport(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	producer, _ := setupProducer(t, adapter, "room-1")

	_, err := adapter.CreateConsumer("room-1", uuid.New(), producer.ID, json.RawMessage(opusCaps))

	assert.Error(t, err)
}

func TestCloseProducerCascadesToConsumers(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	producer, _ := setupProducer(t, adapter, "room-1")

	consumerUser := uuid.New()
	_, err := adapter.CreateWebRTCTransport("room-1", consumerUser, DirectionRecv)
	require.NoError(t, err)
	consumer, err := adapter.CreateConsumer("room-1", consumerUser, producer.ID, json.RawMessage(opusCaps))
	require.NoError(t, err)

	assert.NoError(t, adapter.CloseProducer(producer.ID))

	assert.Error(t, adapter.ResumeConsumer(consumer.ID))
	_, err = adapter.GetProducer(producer.ID)
	assert.Error(t, err)
}

func TestCloseRouterCascades(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 1)
	producer, producerUser := setupProducer(t, adapter, "room-1")

	consumerUser := uuid.New()
	_, err := adapter.CreateWebRTCTransport("room-1", consumerUser, DirectionRecv)
	require.NoError(t, err)
	consumer, err := adapter.CreateConsumer("room-1", consumerUser, producer.ID, json.RawMessage(opusCaps))
	require.NoError(t, err)

	require.NoError(t, adapter.CloseRouter("room-1"))

	_, err = adapter.GetRouter("room-1")
	assert.Error(t, err)
	_, err = adapter.GetProducer(producer.ID)
	assert.Error(t, err)
	assert.Error(t, adapter.ResumeConsumer(consumer.ID))
	assert.Error(t, adapter.ConnectWebRTCTransport("room-1", producerUser, DirectionSend, nil))
}

func TestWorkerDeathExitsProcess(t *testing.T) {
	adapter := NewAdapterWithWorkers(testConfig(), 2)

	exited := make(chan int, 1)
	adapter.exit = func(code int) { exited <- code }
	adapter.Start()

	adapter.workers[0].Kill()

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after worker death")
	}
}

func TestCanConsumeMatching(t *testing.T) {
	assert.True(t, canConsume(json.RawMessage(opusParams), json.RawMessage(opusCaps)))
	assert.False(t, canConsume(json.RawMessage(opusParams), json.RawMessage(vp9OnlyCaps)))
	assert.False(t, canConsume(nil, json.RawMessage(opusCaps)))
	assert.False(t, canConsume(json.RawMessage(opusParams), nil))
}

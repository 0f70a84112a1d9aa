package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"callcore-backend/internal/media"
)

// Client-initiated signaling operations
const (
	EventJoinRoom               = "joinRoom"
	EventSetRTPCapabilities     = "setRtpCapabilities"
	EventCreateWebRTCTransport  = "createWebRtcTransport"
	EventConnectWebRTCTransport = "connectWebRtcTransport"
	EventProduce                = "produce"
	EventConsume                = "consume"
	EventResumeConsumer         = "resumeConsumer"
	EventGetProducers           = "getProducers"
	EventFinishJoining          = "finishJoining"
)

// Server-initiated pushes
const (
	EventNewProducer       = "newProducer"
	EventParticipantJoined = "participantJoined"
)

// Request is the client-to-server envelope. ID is a client-chosen
// correlation token echoed back on the reply.
type Request struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response is the server-to-client envelope, used both for replies and for
// unsolicited pushes (which carry no ID)
type Response struct {
	ID    string       `json:"id,omitempty"`
	Event string       `json:"event"`
	Data  interface{}  `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail mirrors the REST error envelope
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type joinRoomResponse struct {
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

type setRTPCapabilitiesRequest struct {
	RoomID          string          `json:"roomId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type createTransportRequest struct {
	RoomID    string          `json:"roomId"`
	Direction media.Direction `json:"direction"`
}

type connectTransportRequest struct {
	RoomID         string          `json:"roomId"`
	Direction      media.Direction `json:"direction"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type produceRequest struct {
	RoomID        string                 `json:"roomId"`
	Kind          media.Kind             `json:"kind"`
	RTPParameters json.RawMessage        `json:"rtpParameters"`
	AppData       map[string]interface{} `json:"appData,omitempty"`
}

type produceResponse struct {
	ID string `json:"id"`
}

type consumeRequest struct {
	RoomID     string `json:"roomId"`
	ProducerID string `json:"producerId"`
}

type consumeResponse struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          media.Kind      `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type resumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type getProducersRequest struct {
	RoomID string `json:"roomId"`
}

type producerInfo struct {
	ProducerID string    `json:"producerId"`
	UserID     uuid.UUID `json:"userId"`
}

type finishJoiningRequest struct {
	RoomID string `json:"roomId"`
}

type newProducerPush struct {
	ProducerID string     `json:"producerId"`
	UserID     uuid.UUID  `json:"userId"`
	Kind       media.Kind `json:"kind"`
}

type participantJoinedPush struct {
	UserID uuid.UUID `json:"userId"`
}

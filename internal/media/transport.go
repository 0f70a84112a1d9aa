package media

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Direction distinguishes the two transports each user holds per room
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Valid reports whether the direction is one of send/recv
func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

// TransportKey identifies a transport by (room, user, direction)
type TransportKey struct {
	RoomID    string
	UserID    uuid.UUID
	Direction Direction
}

// ICECandidate is a server-announced network endpoint for a transport
type ICECandidate struct {
	Foundation string `json:"foundation"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	Type       string `json:"type"`
}

// DTLSParameters carries the local DTLS role and certificate fingerprints
type DTLSParameters struct {
	Role         string                   `json:"role"`
	Fingerprints []webrtc.DTLSFingerprint `json:"fingerprints"`
}

// WebRTCTransport is one secure endpoint pair per (room, user, direction)
type WebRTCTransport struct {
	ID        string
	RoomID    string
	UserID    uuid.UUID
	Direction Direction

	ICEParameters  webrtc.ICEParameters
	ICECandidates  []ICECandidate
	DTLSParameters DTLSParameters

	// InitialAvailableOutgoingBitrate seeds the transport's congestion
	// controller estimate, in bit/s
	InitialAvailableOutgoingBitrate int

	mu         sync.Mutex
	remoteDTLS json.RawMessage
	connected  bool
}

// Connect completes the security handshake with the remote DTLS parameters
func (t *WebRTCTransport) Connect(remoteDTLS json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDTLS = remoteDTLS
	t.connected = true
}

// Connected reports whether the DTLS handshake parameters were exchanged
func (t *WebRTCTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// TransportOptions is the connection parameter set returned to clients
type TransportOptions struct {
	ID                              string               `json:"id"`
	ICEParameters                   webrtc.ICEParameters `json:"iceParameters"`
	ICECandidates                   []ICECandidate       `json:"iceCandidates"`
	DTLSParameters                  DTLSParameters       `json:"dtlsParameters"`
	InitialAvailableOutgoingBitrate int                  `json:"initialAvailableOutgoingBitrate"`
}

// Options returns the client-facing connection parameters
func (t *WebRTCTransport) Options() TransportOptions {
	return TransportOptions{
		ID:                              t.ID,
		ICEParameters:                   t.ICEParameters,
		ICECandidates:                   t.ICECandidates,
		DTLSParameters:                  t.DTLSParameters,
		InitialAvailableOutgoingBitrate: t.InitialAvailableOutgoingBitrate,
	}
}

// Producer is a single inbound media stream from one user into the router
type Producer struct {
	ID            string
	RoomID        string
	UserID        uuid.UUID
	Kind          Kind
	TransportID   string
	RTPParameters json.RawMessage
	AppData       map[string]interface{}
}

// Consumer is one outbound forwarding of a producer's stream to another user.
// Consumers start paused; the client resumes once its transport is ready.
type Consumer struct {
	ID            string
	RoomID        string
	UserID        uuid.UUID
	ProducerID    string
	Kind          Kind
	TransportID   string
	RTPParameters json.RawMessage

	mu     sync.Mutex
	paused bool
}

// Resume unpauses the consumer
func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Paused reports whether the consumer is still paused
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

func randomFingerprint() webrtc.DTLSFingerprint {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		copy(buf, []byte(uuid.NewString()))
	}
	parts := make([]string, len(buf))
	for i, b := range buf {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return webrtc.DTLSFingerprint{
		Algorithm: "sha-256",
		Value:     strings.Join(parts, ":"),
	}
}

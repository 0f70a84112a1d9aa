package media

import (
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Kind is the media kind of a producer or consumer
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether the kind is one of audio/video
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// RTPCapabilities is the codec capability set negotiated per router. Clients
// receive it on joinRoom and send their own device capabilities back; the
// payloads are treated as opaque blobs except for codec mime matching.
type RTPCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// DefaultRTPCapabilities is the fixed, predetermined codec set every router
// is created with: one audio codec and two video codecs.
func DefaultRTPCapabilities() RTPCapabilities {
	return RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
			{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
		},
	}
}

// codecList is the minimal shape peeked out of opaque RTP parameter and
// capability blobs for compatibility checks. Everything else passes through
// uninterpreted.
type codecList struct {
	Codecs []struct {
		MimeType string `json:"mimeType"`
	} `json:"codecs"`
}

func mimeTypes(blob json.RawMessage) []string {
	if len(blob) == 0 {
		return nil
	}
	var list codecList
	if err := json.Unmarshal(blob, &list); err != nil {
		return nil
	}
	mimes := make([]string, 0, len(list.Codecs))
	for _, c := range list.Codecs {
		if c.MimeType != "" {
			mimes = append(mimes, strings.ToLower(c.MimeType))
		}
	}
	return mimes
}

// canConsume reports whether a producer's RTP parameters share at least one
// codec with the requesting endpoint's capabilities.
func canConsume(producerParams, remoteCapabilities json.RawMessage) bool {
	producerMimes := mimeTypes(producerParams)
	remoteMimes := mimeTypes(remoteCapabilities)
	if len(producerMimes) == 0 || len(remoteMimes) == 0 {
		return false
	}

	remote := make(map[string]struct{}, len(remoteMimes))
	for _, m := range remoteMimes {
		remote[m] = struct{}{}
	}
	for _, m := range producerMimes {
		if _, ok := remote[m]; ok {
			return true
		}
	}
	return false
}

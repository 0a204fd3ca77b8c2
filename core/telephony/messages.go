// Package telephony implements the media-stream wire protocol spoken by the
// telephony provider over a persistent WebSocket connection.
//
// Every message is a JSON text frame. The provider sends "start", "media",
// "stop" and housekeeping events; the only message sent back is an outbound
// "media" event carrying base64 mu-law audio.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
)

// Track identifies one direction of audio within a call.
type Track string

const (
	// TrackInbound carries caller-to-system audio.
	TrackInbound Track = "inbound"
	// TrackOutbound carries system-to-caller audio.
	TrackOutbound Track = "outbound"
)

func (t Track) Opposite() Track {
	if t == TrackInbound {
		return TrackOutbound
	}
	return TrackInbound
}

// Message is a single decoded media-stream event.
type Message struct {
	Event EventType     `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`

	StreamSid string `json:"streamSid,omitempty"`
}

type StartPayload struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

// CallID returns the call identifier announced by a start event, preferring
// the stream id because outbound media must be addressed to it.
func (p *StartPayload) CallID() string {
	if p == nil {
		return ""
	}
	if p.StreamSid != "" {
		return p.StreamSid
	}
	return p.CallSid
}

type MediaPayload struct {
	Track Track `json:"track,omitempty"`
	// Timestamp is a string-encoded integer in milliseconds on the telephony
	// clock.
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// ParseMessage decodes one wire message. Unknown events decode with their
// event name intact so callers can ignore them.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse telephony message: %w", err)
	}
	return msg, nil
}

// MediaFrame is one media event's audio, decoded from the wire form.
type MediaFrame struct {
	Track       Track
	TimestampMs int64
	Payload     []byte
}

// DecodeMedia extracts the audio frame from a media event.
func (m Message) DecodeMedia() (MediaFrame, error) {
	if m.Event != EventMedia || m.Media == nil {
		return MediaFrame{}, fmt.Errorf("message is not a media event")
	}

	timestamp, err := strconv.ParseInt(m.Media.Timestamp, 10, 64)
	if err != nil {
		return MediaFrame{}, fmt.Errorf("failed to parse media timestamp %q: %w", m.Media.Timestamp, err)
	}

	payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return MediaFrame{}, fmt.Errorf("failed to decode media payload: %w", err)
	}

	return MediaFrame{Track: m.Media.Track, TimestampMs: timestamp, Payload: payload}, nil
}

// EncodeOutboundMedia builds the wire form of one outbound audio chunk.
func EncodeOutboundMedia(streamSid string, audio []byte) ([]byte, error) {
	msg := Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound media message: %w", err)
	}
	return raw, nil
}

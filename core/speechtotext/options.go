package speechtotext

import (
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
)

// TranscriptEvent is one transcription result decoded from the streaming
// service. Interim events are provisional and superseded by later events for
// the same utterance; a final event closes an utterance segment.
type TranscriptEvent struct {
	CallID string
	Text   string

	IsInterim bool
	IsFinal   bool
	// SpeechFinal reports the service's own endpointing verdict, when the
	// service provides one.
	SpeechFinal bool

	// Raw is the service message this event was decoded from, verbatim, so
	// observers can be fed the unmodified stream.
	Raw []byte
}

type StreamOptions struct {
	EncodingInfo audio.EncodingInfo

	Model    string
	Language string

	InterimResults bool
	// EndpointingMs is the service-side silence threshold for marking a
	// segment final.
	EndpointingMs int

	// ReadTimeout bounds how long the connection may stay silent before it is
	// treated as dropped.
	ReadTimeout time.Duration
}

type StreamOption func(*StreamOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) StreamOption {
	return func(o *StreamOptions) {
		o.EncodingInfo = encodingInfo
	}
}

func WithModel(model string) StreamOption {
	return func(o *StreamOptions) {
		o.Model = model
	}
}

func WithLanguage(language string) StreamOption {
	return func(o *StreamOptions) {
		o.Language = language
	}
}

func WithInterimResults(enabled bool) StreamOption {
	return func(o *StreamOptions) {
		o.InterimResults = enabled
	}
}

func WithEndpointing(ms int) StreamOption {
	return func(o *StreamOptions) {
		o.EndpointingMs = ms
	}
}

func WithReadTimeout(timeout time.Duration) StreamOption {
	return func(o *StreamOptions) {
		o.ReadTimeout = timeout
	}
}

package orchestration

import (
	"context"
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/texttospeech"
)

// SpeechToText opens live transcription streams. Satisfied by the
// Deepgram transcription client.
type SpeechToText interface {
	OpenStream(ctx context.Context, opts ...speechtotext.StreamOption) (speechtotext.Stream, error)
}

// Responder produces the agent's reply to a caller utterance.
type Responder interface {
	Reply(ctx context.Context, utterance string) (string, error)
}

// ResponderFactory builds a fresh responder for each call so per-call
// conversation state never leaks between callers.
type ResponderFactory func(callID string) Responder

// Synthesizer converts response text into playback audio. Satisfied by
// the Deepgram synthesis client.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error)
}

type CallSessionOption func(*CallSession)

func WithRegistry(registry *Registry) CallSessionOption {
	return func(s *CallSession) { s.registry = registry }
}

func WithSpeechToText(speechToText SpeechToText) CallSessionOption {
	return func(s *CallSession) { s.speechToText = speechToText }
}

func WithResponderFactory(factory ResponderFactory) CallSessionOption {
	return func(s *CallSession) { s.newResponder = factory }
}

func WithSynthesizer(synthesizer Synthesizer) CallSessionOption {
	return func(s *CallSession) { s.synthesizer = synthesizer }
}

func WithEncodingInfo(encoding audio.EncodingInfo) CallSessionOption {
	return func(s *CallSession) { s.encoding = encoding }
}

// WithDebounceWindow overrides how long the session waits for more
// speech before treating an utterance as complete.
func WithDebounceWindow(window time.Duration) CallSessionOption {
	return func(s *CallSession) { s.debounceWindow = window }
}

// WithExitPhrases overrides the phrases that end the call.
func WithExitPhrases(phrases ...string) CallSessionOption {
	return func(s *CallSession) { s.exitPhrases = phrases }
}

// WithFarewell overrides the message spoken before hanging up.
func WithFarewell(farewell string) CallSessionOption {
	return func(s *CallSession) { s.farewell = farewell }
}

// WithApology overrides the fallback message spoken when response
// generation or synthesis fails.
func WithApology(apology string) CallSessionOption {
	return func(s *CallSession) { s.apology = apology }
}

// WithMixedTracks reconstructs and mixes both audio directions into
// the transcription stream instead of only the caller's.
func WithMixedTracks() CallSessionOption {
	return func(s *CallSession) { s.mixedTracks = true }
}

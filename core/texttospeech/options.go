package texttospeech

import (
	"fmt"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
)

type SynthesisOptions struct {
	// EncodingInfo describes the audio format the synthesized speech
	// should be produced in.
	EncodingInfo audio.EncodingInfo
	// Voice selects the voice model used for synthesis. Interpretation
	// is provider specific.
	Voice string
}

type SynthesisOption func(*SynthesisOptions)

func WithEncodingInfo(info audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) { o.EncodingInfo = info }
}

func WithVoice(voice string) SynthesisOption {
	return func(o *SynthesisOptions) { o.Voice = voice }
}

// SynthesisError reports a failed synthesis request. It wraps the
// underlying transport or provider error when one is available.
type SynthesisError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("speech synthesis failed (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("speech synthesis failed: %v", e.Err)
	}
	return fmt.Sprintf("speech synthesis failed: %s", e.Message)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

package deepgram

import (
	"fmt"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
)

// encodingInfo is the encoding description the listen API expects in its
// query parameters.
type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingMulaw    encodingFormat = "mulaw"
)

// convertEncoding maps the audio encodings this pipeline produces onto the
// service's encoding names. Telephony audio is mu-law locked to 8 kHz;
// linear16 is accepted at the standard rates.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	switch encoding.Format {
	case audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return nil, fmt.Errorf("mulaw audio must be sampled at 8000 Hz, got %d", encoding.SampleRate)
		}
		return &encodingInfo{SampleRate: encoding.SampleRate, Format: encodingMulaw}, nil
	case audio.EncodingLinear16:
		switch encoding.SampleRate {
		case 8000, 16000, 24000, 32000, 48000:
			return &encodingInfo{SampleRate: encoding.SampleRate, Format: encodingLinear16}, nil
		}
		return nil, fmt.Errorf("unsupported linear16 sample rate %d", encoding.SampleRate)
	}

	return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
}

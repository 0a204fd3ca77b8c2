package deepgram

import (
	"testing"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
)

func TestDecodeTranscriptEventFinalResult(t *testing.T) {
	msg := []byte(`{"type":"Results","is_final":true,"speech_final":true,` +
		`"channel":{"alternatives":[{"transcript":" hello there "}]}}`)

	event, ok := decodeTranscriptEvent(msg)
	if !ok {
		t.Fatalf("expected message to decode")
	}
	if event.Text != "hello there" {
		t.Fatalf("expected trimmed transcript, got %q", event.Text)
	}
	if !event.IsFinal || event.IsInterim {
		t.Fatalf("expected a final event, got final=%t interim=%t", event.IsFinal, event.IsInterim)
	}
	if !event.SpeechFinal {
		t.Fatalf("expected speech-final flag to be carried over")
	}
	if string(event.Raw) != string(msg) {
		t.Fatalf("expected raw message to be retained verbatim")
	}
}

func TestDecodeTranscriptEventInterimResult(t *testing.T) {
	msg := []byte(`{"type":"Results","is_final":false,` +
		`"channel":{"alternatives":[{"transcript":"hel"}]}}`)

	event, ok := decodeTranscriptEvent(msg)
	if !ok {
		t.Fatalf("expected message to decode")
	}
	if !event.IsInterim || event.IsFinal {
		t.Fatalf("expected an interim event, got final=%t interim=%t", event.IsFinal, event.IsInterim)
	}
}

func TestDecodeTranscriptEventKeepsNonResultMessages(t *testing.T) {
	msg := []byte(`{"type":"Metadata","request_id":"abc"}`)

	event, ok := decodeTranscriptEvent(msg)
	if !ok {
		t.Fatalf("expected metadata message to decode")
	}
	if event.Text != "" || event.IsFinal {
		t.Fatalf("expected an empty pass-through event, got %+v", event)
	}
}

func TestDecodeTranscriptEventRejectsMalformedJSON(t *testing.T) {
	if _, ok := decodeTranscriptEvent([]byte(`{"type":`)); ok {
		t.Fatalf("expected malformed message to be rejected")
	}
}

func TestConvertEncodingRejectsWidebandMulaw(t *testing.T) {
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}); err == nil {
		t.Fatalf("expected 16 kHz mulaw to be rejected")
	}
}

func TestConvertEncodingCoversPipelineFormats(t *testing.T) {
	got, err := convertEncoding(audio.GetDefaultEncodingInfo())
	if err != nil {
		t.Fatalf("expected telephony encoding to convert, got %v", err)
	}
	if got.Format.Name() != "mulaw" || got.SampleRate != 8000 {
		t.Fatalf("unexpected conversion: %+v", got)
	}

	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}); err != nil {
		t.Fatalf("expected 16 kHz linear16 to convert, got %v", err)
	}

	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingALaw}); err == nil {
		t.Fatalf("expected alaw to be rejected")
	}
}

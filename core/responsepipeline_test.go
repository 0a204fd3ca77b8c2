package orchestration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/llms"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/texttospeech"
)

type fakeResponder struct {
	reply string
	err   error
	got   string
}

func (r *fakeResponder) Reply(_ context.Context, utterance string) (string, error) {
	r.got = utterance
	return r.reply, r.err
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	audio  []byte
	err    error
	texts  []string
	failOn string
}

func (s *fakeSynthesizer) Synthesize(_ context.Context, text string, _ ...texttospeech.SynthesisOption) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.err != nil && (s.failOn == "" || s.failOn == text) {
		return nil, s.err
	}
	return s.audio, nil
}

type frameCollector struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *frameCollector) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestRespondPacesPlaybackFrames(t *testing.T) {
	responder := &fakeResponder{reply: "Hello caller"}
	synthesizer := &fakeSynthesizer{audio: make([]byte, 480)}
	collector := &frameCollector{}

	pipeline := newResponsePipeline(responder, synthesizer, audio.GetDefaultEncodingInfo(), collector.send)

	start := time.Now()
	if err := pipeline.Respond(context.Background(), "hi there"); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	elapsed := time.Since(start)

	if responder.got != "hi there" {
		t.Fatalf("responder received %q", responder.got)
	}
	if got := collector.count(); got != 3 {
		t.Fatalf("expected 3 frames of 160 bytes, got %d", got)
	}
	for i, frame := range collector.frames {
		if len(frame) != 160 {
			t.Fatalf("frame %d has %d bytes", i, len(frame))
		}
	}
	// Three frames means waiting out three 20ms ticks.
	if elapsed < 50*time.Millisecond {
		t.Fatalf("playback finished too fast: %v", elapsed)
	}
}

func TestRespondSpeaksApologyWhenGenerationFails(t *testing.T) {
	responder := &fakeResponder{err: &llms.GenerationError{StatusCode: 500, Message: "boom"}}
	synthesizer := &fakeSynthesizer{audio: make([]byte, 160)}
	collector := &frameCollector{}

	pipeline := newResponsePipeline(responder, synthesizer, audio.GetDefaultEncodingInfo(), collector.send)

	if err := pipeline.Respond(context.Background(), "hi"); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if len(synthesizer.texts) != 1 || !strings.Contains(synthesizer.texts[0], "having trouble") {
		t.Fatalf("expected the apology to be synthesized, got %v", synthesizer.texts)
	}
	if collector.count() != 1 {
		t.Fatalf("expected the apology to be played, got %d frames", collector.count())
	}
}

func TestRespondSpeaksApologyWhenSynthesisFails(t *testing.T) {
	responder := &fakeResponder{reply: "A real answer"}
	synthesizer := &fakeSynthesizer{
		audio:  make([]byte, 160),
		err:    &texttospeech.SynthesisError{StatusCode: 500, Message: "boom"},
		failOn: "A real answer",
	}
	collector := &frameCollector{}

	pipeline := newResponsePipeline(responder, synthesizer, audio.GetDefaultEncodingInfo(), collector.send)

	if err := pipeline.Respond(context.Background(), "hi"); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if len(synthesizer.texts) != 2 || !strings.Contains(synthesizer.texts[1], "having trouble") {
		t.Fatalf("expected a fallback apology synthesis, got %v", synthesizer.texts)
	}
	if collector.count() != 1 {
		t.Fatalf("expected only the apology to be played, got %d frames", collector.count())
	}
}

func TestPlaybackStopsWhenContextIsCancelled(t *testing.T) {
	responder := &fakeResponder{reply: "long answer"}
	// Ten seconds of audio.
	synthesizer := &fakeSynthesizer{audio: make([]byte, 80000)}
	collector := &frameCollector{}

	pipeline := newResponsePipeline(responder, synthesizer, audio.GetDefaultEncodingInfo(), collector.send)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- pipeline.Respond(ctx, "hi") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("playback did not stop after cancellation")
	}

	if collector.count() >= 500 {
		t.Fatalf("playback ran to completion despite cancellation: %d frames", collector.count())
	}
}

func TestCancelAbortsPlayback(t *testing.T) {
	responder := &fakeResponder{reply: "long answer"}
	synthesizer := &fakeSynthesizer{audio: make([]byte, 80000)}
	collector := &frameCollector{}

	pipeline := newResponsePipeline(responder, synthesizer, audio.GetDefaultEncodingInfo(), collector.send)

	errs := make(chan error, 1)
	go func() { errs <- pipeline.Respond(context.Background(), "hi") }()

	time.Sleep(50 * time.Millisecond)
	pipeline.Cancel()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("playback did not stop after Cancel")
	}
}

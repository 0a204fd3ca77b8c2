package orchestration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/telephony"
)

type scriptedLeg struct {
	incoming chan []byte

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedLeg() *scriptedLeg {
	return &scriptedLeg{
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (l *scriptedLeg) ReadMessage() ([]byte, error) {
	select {
	case msg := <-l.incoming:
		return msg, nil
	case <-l.closed:
		return nil, errors.New("connection closed")
	}
}

func (l *scriptedLeg) WriteMessage(data []byte) error {
	select {
	case <-l.closed:
		return errors.New("connection closed")
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, append([]byte(nil), data...))
	return nil
}

func (l *scriptedLeg) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedLeg) writtenMessages() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.written...)
}

type fakeStream struct {
	mu    sync.Mutex
	audio []byte
	err   error

	events    chan speechtotext.TranscriptEvent
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan speechtotext.TranscriptEvent, 16)}
}

func (s *fakeStream) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio...)
	return nil
}

func (s *fakeStream) Events() iter.Seq[speechtotext.TranscriptEvent] {
	return func(yield func(speechtotext.TranscriptEvent) bool) {
		for event := range s.events {
			if !yield(event) {
				return
			}
		}
	}
}

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) receivedAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.audio...)
}

type fakeSpeechToText struct {
	stream *fakeStream
}

func (f *fakeSpeechToText) OpenStream(_ context.Context, _ ...speechtotext.StreamOption) (speechtotext.Stream, error) {
	return f.stream, nil
}

func startMessage(streamSid string) []byte {
	return []byte(fmt.Sprintf(`{"event":"start","streamSid":%q,"start":{"streamSid":%q,"callSid":"CA1"}}`, streamSid, streamSid))
}

func mediaMessage(track telephony.Track, timestampMs int64, payload []byte) []byte {
	return []byte(fmt.Sprintf(`{"event":"media","media":{"track":%q,"timestamp":"%d","payload":%q}}`,
		track, timestampMs, base64.StdEncoding.EncodeToString(payload)))
}

func testSession(t *testing.T, leg *scriptedLeg, stream *fakeStream, responder *fakeResponder, opts ...CallSessionOption) (*CallSession, *Registry, chan error) {
	t.Helper()

	registry := NewRegistry()
	synthesizer := &fakeSynthesizer{audio: make([]byte, 160)}

	options := append([]CallSessionOption{
		WithRegistry(registry),
		WithSpeechToText(&fakeSpeechToText{stream: stream}),
		WithResponderFactory(func(string) Responder { return responder }),
		WithSynthesizer(synthesizer),
		WithDebounceWindow(20 * time.Millisecond),
	}, opts...)

	session := NewCallSession(leg, options...)

	errs := make(chan error, 1)
	go func() { errs <- session.Run(context.Background()) }()
	return session, registry, errs
}

func waitForRun(t *testing.T, errs chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func TestSessionTranscribesAndResponds(t *testing.T) {
	leg := newScriptedLeg()
	stream := newFakeStream()
	responder := &fakeResponder{reply: "How can I help?"}

	_, registry, errs := testSession(t, leg, stream, responder)

	leg.incoming <- []byte(`{"event":"connected"}`)
	leg.incoming <- startMessage("MZ1")

	waitFor(t, func() bool {
		return len(registry.OpenCalls()) == 1
	})
	if registry.OpenCalls()[0] != "MZ1" {
		t.Fatalf("unexpected call id: %v", registry.OpenCalls())
	}

	subscriber, err := registry.Subscribe("MZ1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0x42
	}
	leg.incoming <- mediaMessage(telephony.TrackInbound, 0, payload)
	leg.incoming <- mediaMessage(telephony.TrackInbound, 20, payload)

	waitFor(t, func() bool {
		return len(stream.receivedAudio()) == 320
	})

	stream.events <- speechtotext.TranscriptEvent{
		Text: "my laptop is broken", IsFinal: true, Raw: []byte(`{"type":"Results"}`),
	}

	select {
	case msg := <-subscriber.Messages():
		if string(msg.Raw) != `{"type":"Results"}` {
			t.Fatalf("unexpected observer payload: %s", msg.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("observer did not receive the transcript")
	}

	waitFor(t, func() bool {
		return len(leg.writtenMessages()) > 0
	})
	if responder.got != "my laptop is broken" {
		t.Fatalf("responder received %q", responder.got)
	}

	outbound, err := telephony.ParseMessage(leg.writtenMessages()[0])
	if err != nil {
		t.Fatalf("failed to parse outbound message: %v", err)
	}
	if outbound.Event != telephony.EventMedia || outbound.StreamSid != "MZ1" {
		t.Fatalf("unexpected outbound message: %+v", outbound)
	}

	leg.incoming <- []byte(`{"event":"stop"}`)

	if err := waitForRun(t, errs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case msg := <-subscriber.Messages():
		if !msg.Terminal {
			t.Fatalf("expected a terminal message, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("observer did not receive the terminal message")
	}

	if len(registry.OpenCalls()) != 0 {
		t.Fatalf("call still registered after stop: %v", registry.OpenCalls())
	}
}

func TestSessionSpeaksFarewellAndHangsUpOnExitPhrase(t *testing.T) {
	leg := newScriptedLeg()
	stream := newFakeStream()
	responder := &fakeResponder{reply: "should not be used"}

	_, registry, errs := testSession(t, leg, stream, responder)

	leg.incoming <- startMessage("MZ2")
	waitFor(t, func() bool { return len(registry.OpenCalls()) == 1 })

	stream.events <- speechtotext.TranscriptEvent{Text: "goodbye", IsFinal: true}

	if err := waitForRun(t, errs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The farewell was spoken before hanging up.
	if len(leg.writtenMessages()) == 0 {
		t.Fatal("expected farewell audio to be written")
	}
	if responder.got != "" {
		t.Fatalf("responder should not run for an exit phrase, got %q", responder.got)
	}
	if len(registry.OpenCalls()) != 0 {
		t.Fatalf("call still registered after hang up: %v", registry.OpenCalls())
	}
}

func TestSessionFailsOnDuplicateCallID(t *testing.T) {
	leg := newScriptedLeg()
	stream := newFakeStream()
	responder := &fakeResponder{}

	registry := NewRegistry()
	if err := registry.Open("MZ3"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	session := NewCallSession(leg,
		WithRegistry(registry),
		WithSpeechToText(&fakeSpeechToText{stream: stream}),
		WithResponderFactory(func(string) Responder { return responder }),
		WithSynthesizer(&fakeSynthesizer{audio: make([]byte, 160)}),
	)

	errs := make(chan error, 1)
	go func() { errs <- session.Run(context.Background()) }()

	leg.incoming <- startMessage("MZ3")

	err := waitForRun(t, errs)
	if !errors.Is(err, ErrCallAlreadyOpen) {
		t.Fatalf("expected ErrCallAlreadyOpen, got %v", err)
	}
}

func TestSessionEndsWhenTranscriptionFails(t *testing.T) {
	leg := newScriptedLeg()
	stream := newFakeStream()
	responder := &fakeResponder{}

	_, registry, errs := testSession(t, leg, stream, responder)

	leg.incoming <- startMessage("MZ4")
	waitFor(t, func() bool { return len(registry.OpenCalls()) == 1 })

	stream.mu.Lock()
	stream.err = errors.New("transcription connection lost")
	stream.mu.Unlock()
	stream.Close()

	if err := waitForRun(t, errs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(registry.OpenCalls()) != 0 {
		t.Fatalf("call still registered after stream failure: %v", registry.OpenCalls())
	}
}

func TestSessionIgnoresMessagesBeforeStart(t *testing.T) {
	leg := newScriptedLeg()
	stream := newFakeStream()
	responder := &fakeResponder{}

	_, registry, errs := testSession(t, leg, stream, responder)

	leg.incoming <- []byte(`not even json`)
	leg.incoming <- []byte(`{"event":"connected"}`)
	leg.incoming <- []byte(`{"event":"stop"}`)

	if err := waitForRun(t, errs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(registry.OpenCalls()) != 0 {
		t.Fatalf("no call should have been registered, got %v", registry.OpenCalls())
	}
}

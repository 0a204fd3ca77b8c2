package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/telephony"
)

const defaultFarewell = "Goodbye! Ending the call now."

// TelephonyLeg is the provider-facing connection of one call. Message
// payloads are the raw wire messages of the media-stream protocol.
type TelephonyLeg interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// CallSession drives one telephone call end to end: it reconstructs
// the caller's audio, streams it to transcription, decides when the
// caller is done speaking, and speaks generated responses back. Raw
// transcription messages fan out to registry observers as they arrive.
type CallSession struct {
	leg          TelephonyLeg
	registry     *Registry
	speechToText SpeechToText
	newResponder ResponderFactory
	synthesizer  Synthesizer

	encoding       audio.EncodingInfo
	debounceWindow time.Duration
	exitPhrases    []string
	farewell       string
	apology        string
	mixedTracks    bool

	callID    string
	streamSid string

	writeMu sync.Mutex

	stream     speechtotext.Stream
	controller *turnTakingController
	pipeline   *responsePipeline

	workers    sync.WaitGroup
	registered atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	cancel     context.CancelFunc
}

func NewCallSession(leg TelephonyLeg, opts ...CallSessionOption) *CallSession {
	s := &CallSession{
		leg:            leg,
		encoding:       audio.GetDefaultEncodingInfo(),
		debounceWindow: defaultDebounceWindow,
		exitPhrases:    defaultExitPhrases,
		farewell:       defaultFarewell,
		apology:        defaultApology,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CallID returns the call identifier once the start event arrived.
func (s *CallSession) CallID() string {
	return s.callID
}

// Run serves the call until the provider hangs up, the caller says an
// exit phrase, or the session fails. It blocks for the duration of the
// call.
func (s *CallSession) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "call session")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.Close()

	hookDone := withContextCancelHook(ctx, func() { s.Close() })
	defer close(hookDone)

	if err := s.awaitStart(); err != nil {
		if s.closed.Load() || errors.Is(err, errCallEndedBeforeStart) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.String("call.id", s.callID))
	logger.InfoContext(ctx, "Call started", "callID", s.callID)

	if err := s.registry.Open(s.callID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to register call %q: %w", s.callID, err)
	}
	s.registered.Store(true)

	stream, err := s.speechToText.OpenStream(ctx,
		speechtotext.WithEncodingInfo(s.encoding),
	)
	if err != nil {
		_ = s.registry.CloseCall(s.callID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcription stream: %w", err)
	}
	s.stream = stream

	s.pipeline = newResponsePipeline(
		s.newResponder(s.callID), s.synthesizer, s.encoding, s.sendPlaybackFrame,
	)
	s.pipeline.apology = s.apology

	s.controller = newTurnTakingController(
		func(utterance string) { s.respond(ctx, utterance) },
		func(string) { s.hangUp(ctx) },
	)
	s.controller.debounceWindow = s.debounceWindow
	s.controller.exitPhrases = s.exitPhrases

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		worker := panicSafeNamedWorker("transcript reader", s.readTranscripts)
		if err := worker(ctx); err != nil {
			logger.ErrorContext(ctx, "Transcript reader stopped", "callID", s.callID, "error", err)
			s.Close()
		}
	}()

	err = s.ingestMedia()

	s.Close()
	s.workers.Wait()

	if err != nil && !s.closed.Load() {
		span.RecordError(err)
		return err
	}

	logger.InfoContext(ctx, "Call ended", "callID", s.callID)
	return nil
}

// Close tears the session down. Safe to call multiple times and from
// any goroutine.
func (s *CallSession) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if s.cancel != nil {
			s.cancel()
		}
		if s.controller != nil {
			s.controller.Close()
		}
		if s.pipeline != nil {
			s.pipeline.Cancel()
		}
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				logger.Warn("Failed to close transcription stream", "callID", s.callID, "error", err)
			}
		}
		if s.registered.Load() {
			if err := s.registry.CloseCall(s.callID); err != nil && !errors.Is(err, ErrCallNotFound) {
				logger.Warn("Failed to close call registration", "callID", s.callID, "error", err)
			}
		}
		if err := s.leg.Close(); err != nil {
			logger.Warn("Failed to close telephony leg", "callID", s.callID, "error", err)
		}
	})
}

func (s *CallSession) validate() error {
	if s.leg == nil {
		return errors.New("a telephony leg is required")
	}
	if s.speechToText == nil {
		return errors.New("a speech-to-text client is required")
	}
	if s.newResponder == nil {
		return errors.New("a responder factory is required")
	}
	if s.synthesizer == nil {
		return errors.New("a synthesizer is required")
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	return nil
}

var errCallEndedBeforeStart = errors.New("call ended before it started")

// awaitStart consumes wire messages until the provider announces the
// call.
func (s *CallSession) awaitStart() error {
	for {
		raw, err := s.leg.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection lost awaiting call start: %w", err)
		}

		msg, err := telephony.ParseMessage(raw)
		if err != nil {
			logger.Warn("Ignoring unparseable message before call start", "error", err)
			continue
		}

		switch msg.Event {
		case telephony.EventStart:
			callID := msg.Start.CallID()
			if callID == "" {
				return errors.New("start event carried no call id")
			}
			s.callID = callID
			s.streamSid = msg.StreamSid
			if s.streamSid == "" && msg.Start != nil {
				s.streamSid = msg.Start.StreamSid
			}
			return nil
		case telephony.EventStop:
			return errCallEndedBeforeStart
		}
	}
}

// ingestMedia reconstructs caller audio from media events and feeds it
// to the transcription stream until the provider hangs up.
func (s *CallSession) ingestMedia() error {
	syncOpts := []trackSynchronizerOption{}
	if s.mixedTracks {
		syncOpts = append(syncOpts, withMixedTracks())
	}
	synchronizer := newTrackSynchronizer(s.encoding, syncOpts...)

	for {
		raw, err := s.leg.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		msg, err := telephony.ParseMessage(raw)
		if err != nil {
			logger.Warn("Ignoring unparseable message", "callID", s.callID, "error", err)
			continue
		}

		switch msg.Event {
		case telephony.EventMedia:
			frame, err := msg.DecodeMedia()
			if err != nil {
				logger.Warn("Ignoring undecodable media frame", "callID", s.callID, "error", err)
				continue
			}
			for chunk := range synchronizer.Ingest(frame) {
				if err := s.stream.SendAudio(chunk); err != nil {
					if s.closed.Load() {
						return nil
					}
					return fmt.Errorf("failed to forward audio to transcription: %w", err)
				}
			}
		case telephony.EventStop:
			return nil
		}
	}
}

// readTranscripts drains the transcription stream, fanning raw
// messages out to observers and feeding events into turn taking.
func (s *CallSession) readTranscripts(ctx context.Context) error {
	for event := range s.stream.Events() {
		if len(event.Raw) > 0 {
			if err := s.registry.Publish(s.callID, event.Raw); err != nil && !errors.Is(err, ErrCallNotFound) {
				logger.Warn("Failed to publish transcript", "callID", s.callID, "error", err)
			}
		}

		if event.IsFinal || event.IsInterim {
			s.controller.OnTranscript(event)
		}
	}

	if err := s.stream.Err(); err != nil && !s.closed.Load() {
		return fmt.Errorf("transcription stream failed: %w", err)
	}
	return nil
}

// respond runs the response pipeline for one utterance. Runs on the
// debounce timer goroutine.
func (s *CallSession) respond(ctx context.Context, utterance string) {
	defer s.controller.OnResponseComplete()

	worker := panicSafeNamedWorker("response pipeline", func(ctx context.Context) error {
		return s.pipeline.Respond(ctx, utterance)
	})
	if err := worker(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "Failed to respond", "callID", s.callID, "error", err)
	}
}

// hangUp speaks the farewell and ends the call.
func (s *CallSession) hangUp(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("caller requested hang up")

	worker := panicSafeNamedWorker("farewell", func(ctx context.Context) error {
		return s.pipeline.Speak(ctx, s.farewell)
	})
	if err := worker(ctx); err != nil && ctx.Err() == nil {
		logger.WarnContext(ctx, "Failed to speak farewell", "callID", s.callID, "error", err)
	}

	s.Close()
}

func (s *CallSession) sendPlaybackFrame(frame []byte) error {
	raw, err := telephony.EncodeOutboundMedia(s.streamSid, frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.leg.WriteMessage(raw)
}

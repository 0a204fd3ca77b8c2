package orchestration

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
)

const defaultApology = "I'm sorry, I'm having trouble responding right now."

// responsePipeline turns an utterance into paced playback audio. The
// response text comes from the responder, speech from the synthesizer,
// and the audio leaves through sendFrame one frame interval at a time
// so the telephony provider can play it in real time.
type responsePipeline struct {
	responder   Responder
	synthesizer Synthesizer
	encoding    audio.EncodingInfo
	apology     string

	// sendFrame delivers one frame interval of encoded audio to the
	// caller.
	sendFrame func(frame []byte) error

	cancelled atomic.Bool
}

func newResponsePipeline(responder Responder, synthesizer Synthesizer, encoding audio.EncodingInfo, sendFrame func([]byte) error) *responsePipeline {
	return &responsePipeline{
		responder:   responder,
		synthesizer: synthesizer,
		encoding:    encoding,
		apology:     defaultApology,
		sendFrame:   sendFrame,
	}
}

// Respond generates and speaks a reply to the utterance. Generation or
// synthesis failures degrade to a spoken apology so the caller is
// never met with silence.
func (p *responsePipeline) Respond(ctx context.Context, utterance string) error {
	ctx, span := tracer.Start(ctx, "respond to utterance")
	defer span.End()

	text, err := p.responder.Reply(ctx, utterance)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "Response generation failed, speaking apology", "error", err)
		text = p.apology
	}
	if text == "" {
		return nil
	}

	span.SetAttributes(attribute.Int("response.length", len(text)))

	if err := p.Speak(ctx, text); err != nil {
		if ctx.Err() != nil {
			return err
		}
		span.RecordError(err)
		logger.ErrorContext(ctx, "Speech synthesis failed, speaking apology", "error", err)
		if text == p.apology {
			return err
		}
		return p.Speak(ctx, p.apology)
	}

	return nil
}

// Speak synthesizes the text and plays it out at the real-time rate.
func (p *responsePipeline) Speak(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "speak response")
	defer span.End()

	speech, err := p.synthesizer.Synthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	if err := p.play(ctx, speech); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// play paces the audio out one frame interval per tick. Sending the
// whole payload at once would overrun the provider's jitter buffer.
func (p *responsePipeline) play(ctx context.Context, speech []byte) error {
	frameSize := p.encoding.BytesPerMillisecond() * frameIntervalMs

	ticker := time.NewTicker(frameIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for offset := 0; offset < len(speech); offset += frameSize {
		if p.cancelled.Load() {
			return context.Canceled
		}

		end := min(offset+frameSize, len(speech))
		if err := p.sendFrame(speech[offset:end]); err != nil {
			return fmt.Errorf("failed to send playback frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// Cancel aborts any in-flight playback.
func (p *responsePipeline) Cancel() {
	p.cancelled.Store(true)
}

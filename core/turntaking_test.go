package orchestration

import (
	"sync"
	"testing"
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
)

type turnRecorder struct {
	mu         sync.Mutex
	utterances []string
	farewells  []string
}

func (r *turnRecorder) onUtterance(utterance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, utterance)
}

func (r *turnRecorder) onFarewell(utterance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.farewells = append(r.farewells, utterance)
}

func (r *turnRecorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.utterances...), append([]string(nil), r.farewells...)
}

func newTestController(recorder *turnRecorder, debounce time.Duration) *turnTakingController {
	c := newTurnTakingController(recorder.onUtterance, recorder.onFarewell)
	c.debounceWindow = debounce
	return c
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func finalSegment(text string) speechtotext.TranscriptEvent {
	return speechtotext.TranscriptEvent{Text: text, IsFinal: true}
}

func interimSegment(text string) speechtotext.TranscriptEvent {
	return speechtotext.TranscriptEvent{Text: text, IsInterim: true}
}

func TestDebounceReleasesUtterance(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 30*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("I need help with"))
	c.OnTranscript(finalSegment("I need help with my laptop"))

	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 1
	})

	utterances, _ := recorder.snapshot()
	if utterances[0] != "I need help with my laptop" {
		t.Fatalf("unexpected utterance: %q", utterances[0])
	}
}

func TestNewSegmentSupersedesPendingRelease(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 40*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("hello there"))
	time.Sleep(20 * time.Millisecond)
	c.OnTranscript(finalSegment("hello there, how are you"))
	time.Sleep(20 * time.Millisecond)

	// The first transcript alone must never have been released.
	utterances, _ := recorder.snapshot()
	if len(utterances) != 0 {
		t.Fatalf("utterance released too early: %v", utterances)
	}

	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 1
	})

	// The later transcript replaces the earlier one outright.
	utterances, _ = recorder.snapshot()
	if utterances[0] != "hello there, how are you" {
		t.Fatalf("unexpected utterance: %q", utterances[0])
	}
}

func TestInterimSpeechHoldsPendingUtterance(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 30*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("hold on"))
	c.OnTranscript(interimSegment("I also"))

	time.Sleep(60 * time.Millisecond)
	utterances, _ := recorder.snapshot()
	if len(utterances) != 0 {
		t.Fatalf("interim speech should hold the utterance, got %v", utterances)
	}

	c.OnTranscript(finalSegment("I also need a monitor"))
	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 1
	})

	utterances, _ = recorder.snapshot()
	if utterances[0] != "hold on I also need a monitor" {
		t.Fatalf("unexpected utterance: %q", utterances[0])
	}
}

func TestEmptyInterimDoesNotStallPendingUtterance(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 30*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("I need help"))
	c.OnTranscript(interimSegment("  "))

	// Silence produces empty interim results; they must not hold the
	// pending utterance back.
	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 1
	})

	utterances, _ := recorder.snapshot()
	if utterances[0] != "I need help" {
		t.Fatalf("unexpected utterance: %q", utterances[0])
	}
}

func TestSpeechDuringResponseIsDiscarded(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 10*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("first utterance"))
	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 1
	})

	// Still responding, this speech must not start a new turn.
	c.OnTranscript(finalSegment("barge in"))
	time.Sleep(40 * time.Millisecond)

	utterances, _ := recorder.snapshot()
	if len(utterances) != 1 {
		t.Fatalf("expected the barge-in to be discarded, got %v", utterances)
	}

	c.OnResponseComplete()
	c.OnTranscript(finalSegment("second utterance"))
	waitFor(t, func() bool {
		utterances, _ := recorder.snapshot()
		return len(utterances) == 2
	})

	utterances, _ = recorder.snapshot()
	if utterances[1] != "second utterance" {
		t.Fatalf("unexpected second utterance: %q", utterances[1])
	}
}

func TestExitPhraseBypassesDebounce(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, time.Hour)
	defer c.Close()

	c.OnTranscript(finalSegment("thanks for the help"))
	c.OnTranscript(finalSegment("Goodbye"))

	waitFor(t, func() bool {
		_, farewells := recorder.snapshot()
		return len(farewells) == 1
	})

	utterances, farewells := recorder.snapshot()
	if len(utterances) != 0 {
		t.Fatalf("no regular utterance expected, got %v", utterances)
	}
	if farewells[0] != "Goodbye" {
		t.Fatalf("unexpected farewell utterance: %q", farewells[0])
	}

	// The lockout also applies after a farewell.
	c.OnTranscript(finalSegment("wait actually"))
	time.Sleep(20 * time.Millisecond)
	utterances, _ = recorder.snapshot()
	if len(utterances) != 0 {
		t.Fatalf("speech after a farewell should be discarded, got %v", utterances)
	}
}

func TestEmptyFinalSegmentsAreIgnored(t *testing.T) {
	recorder := &turnRecorder{}
	c := newTestController(recorder, 20*time.Millisecond)
	defer c.Close()

	c.OnTranscript(finalSegment("   "))
	time.Sleep(50 * time.Millisecond)

	utterances, _ := recorder.snapshot()
	if len(utterances) != 0 {
		t.Fatalf("blank segments should not start a turn, got %v", utterances)
	}
}

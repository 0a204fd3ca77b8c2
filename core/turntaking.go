package orchestration

import (
	"strings"
	"sync"
	"time"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
)

const defaultDebounceWindow = 1000 * time.Millisecond

var defaultExitPhrases = []string{"goodbye", "exit"}

type turnState string

const (
	// stateIdle means the caller has not finished an utterance yet.
	stateIdle turnState = "idle"
	// stateAwaitingDebounce means a finalized transcript is buffered
	// and the controller is waiting out the silence window.
	stateAwaitingDebounce turnState = "awaiting_debounce"
	// stateResponding means a response is being generated and spoken.
	// Caller speech is not treated as a new utterance until the
	// response finishes.
	stateResponding turnState = "responding"
)

// turnTakingController decides when the caller has finished speaking.
// Each finalized transcript supersedes the pending utterance and re-arms
// the debounce window; the utterance is released once the window elapses
// with no further speech. Exit phrases bypass the debounce entirely.
type turnTakingController struct {
	debounceWindow time.Duration
	exitPhrases    []string

	// onUtterance is called with the complete utterance once the
	// debounce window elapses. Runs on the timer goroutine.
	onUtterance func(utterance string)
	// onFarewell is called when the caller asks to end the call.
	onFarewell func(utterance string)

	mu      sync.Mutex
	state   turnState
	pending string
	timer   *time.Timer
	closed  bool
}

func newTurnTakingController(onUtterance func(string), onFarewell func(string)) *turnTakingController {
	return &turnTakingController{
		debounceWindow: defaultDebounceWindow,
		exitPhrases:    defaultExitPhrases,
		onUtterance:    onUtterance,
		onFarewell:     onFarewell,
		state:          stateIdle,
	}
}

// OnTranscript feeds one transcript event into the state machine.
// Events with no text carry no speech and are ignored; the service
// emits them routinely during silence.
func (c *turnTakingController) OnTranscript(event speechtotext.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state == stateResponding {
		return
	}

	if event.IsInterim {
		// The caller is still talking. Hold the pending utterance
		// until another finalized segment arrives.
		c.stopTimerLocked()
		return
	}

	if c.isExitPhrase(text) {
		c.stopTimerLocked()
		c.pending = ""
		c.state = stateResponding
		go c.onFarewell(text)
		return
	}

	c.pending = text
	c.state = stateAwaitingDebounce
	c.restartTimerLocked()
}

// OnResponseComplete reopens the floor to the caller.
func (c *turnTakingController) OnResponseComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateResponding {
		c.state = stateIdle
	}
}

func (c *turnTakingController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopTimerLocked()
}

func (c *turnTakingController) isExitPhrase(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range c.exitPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func (c *turnTakingController) restartTimerLocked() {
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.debounceWindow, c.debounceElapsed)
}

func (c *turnTakingController) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *turnTakingController) debounceElapsed() {
	c.mu.Lock()

	if c.closed || c.state != stateAwaitingDebounce || c.pending == "" {
		c.mu.Unlock()
		return
	}

	utterance := c.pending
	c.pending = ""
	c.state = stateResponding
	c.mu.Unlock()

	c.onUtterance(utterance)
}

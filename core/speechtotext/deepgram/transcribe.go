package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext"
)

const (
	defaultModel       = "nova-3"
	defaultLanguage    = "en-US"
	defaultEndpointing = 300
	defaultReadTimeout = 30 * time.Second
)

// TranscriptionClient opens live transcription streams against the Deepgram
// listen API. One client can serve any number of concurrent calls; every
// OpenStream call dials a dedicated connection.
type TranscriptionClient struct {
	apiKey   string
	defaults []speechtotext.StreamOption
}

// NewTranscriptionClient creates a client. Options passed here become the
// defaults for every stream and can be overridden per call.
func NewTranscriptionClient(apiKey string, defaults ...speechtotext.StreamOption) *TranscriptionClient {
	return &TranscriptionClient{apiKey: apiKey, defaults: defaults}
}

func (c *TranscriptionClient) OpenStream(ctx context.Context, opts ...speechtotext.StreamOption) (speechtotext.Stream, error) {
	options := speechtotext.StreamOptions{
		EncodingInfo:   audio.GetDefaultEncodingInfo(),
		Model:          defaultModel,
		Language:       defaultLanguage,
		InterimResults: true,
		EndpointingMs:  defaultEndpointing,
		ReadTimeout:    defaultReadTimeout,
	}
	for _, opt := range c.defaults {
		opt(&options)
	}
	for _, opt := range opts {
		opt(&options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := connectWebsocket(ctx, c.apiKey, encoding, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	stream := &liveStream{
		conn:        conn,
		readTimeout: options.ReadTimeout,
		events:      make(chan speechtotext.TranscriptEvent, 32),
	}
	go stream.readAndProcessMessages()

	return stream, nil
}

func connectWebsocket(ctx context.Context, apiKey string, encoding *encodingInfo, options speechtotext.StreamOptions) (*websocket.Conn, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	listenURL, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", options.Model)
	queryParams.Set("language", options.Language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("punctuate", "true")
	if options.InterimResults {
		queryParams.Set("interim_results", "true")
	}
	if options.EndpointingMs > 0 {
		queryParams.Set("endpointing", strconv.Itoa(options.EndpointingMs))
	}

	listenURL.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

type liveStream struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	readTimeout time.Duration

	events chan speechtotext.TranscriptEvent

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *liveStream) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Events drains the stream's decoded transcript events in service order. The
// sequence is not restartable: events consumed by one iteration are gone.
func (s *liveStream) Events() iter.Seq[speechtotext.TranscriptEvent] {
	return func(yield func(speechtotext.TranscriptEvent) bool) {
		for event := range s.events {
			if !yield(event) {
				return
			}
		}
	}
}

// Err reports the terminal stream error. It is meaningful once Events ends.
func (s *liveStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveStream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		writeErr := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)})
		s.connMu.Unlock()

		if err := s.conn.Close(); err != nil && writeErr == nil {
			closeErr = fmt.Errorf("failed to close deepgram connection: %w", err)
		}
	})
	return closeErr
}

func (s *liveStream) readAndProcessMessages() {
	defer close(s.events)

	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("transcription connection lost: %w", err))
			}
			s.conn.Close()
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		event, ok := decodeTranscriptEvent(msg)
		if !ok {
			logger.Warn("Skipping malformed deepgram message")
			continue
		}
		s.events <- event
	}
}

func (s *liveStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// decodeTranscriptEvent turns one service message into a TranscriptEvent. The
// raw message is retained verbatim for observer fan-out. Messages that are
// not transcription results decode to an event with no text so observers
// still see them.
func decodeTranscriptEvent(msg []byte) (speechtotext.TranscriptEvent, bool) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return speechtotext.TranscriptEvent{}, false
	}

	event := speechtotext.TranscriptEvent{Raw: msg}
	if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
		return event, true
	}

	var msgResp api.MessageResponse
	if err := json.Unmarshal(msg, &msgResp); err != nil {
		return speechtotext.TranscriptEvent{}, false
	}

	if len(msgResp.Channel.Alternatives) > 0 {
		event.Text = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
	}
	event.IsFinal = msgResp.IsFinal
	event.IsInterim = !msgResp.IsFinal
	event.SpeechFinal = msgResp.SpeechFinal

	return event, true
}

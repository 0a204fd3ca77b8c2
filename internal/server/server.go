// Package server exposes the two WebSocket endpoints of the voice
// agent: the telephony media-stream endpoint that serves calls and the
// observer endpoint that streams live transcripts to clients.
package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/rfolmedoa/ai-voice-agent-for-it-support/core"
)

const (
	// TelephonyPath accepts media-stream connections from the
	// telephony provider.
	TelephonyPath = "/twilio"
	// ObserverPath accepts transcript observer connections.
	ObserverPath = "/client"
)

type Server struct {
	registry       *orchestration.Registry
	sessionOptions []orchestration.CallSessionOption
	upgrader       websocket.Upgrader
}

// New builds a server around the registry. The session options are
// applied to every call session the telephony endpoint spawns.
func New(registry *orchestration.Registry, sessionOptions ...orchestration.CallSessionOption) *Server {
	return &Server{
		registry:       registry,
		sessionOptions: sessionOptions,
		upgrader: websocket.Upgrader{
			// The telephony provider sends no Origin header and
			// observers may come from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(TelephonyPath, s.handleTelephony)
	mux.HandleFunc(ObserverPath, s.handleObserver)
	return otelhttp.NewHandler(mux, "voice-agent")
}

// wsLeg adapts a WebSocket connection to the session's telephony leg.
type wsLeg struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (l *wsLeg) ReadMessage() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	return data, err
}

func (l *wsLeg) WriteMessage(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLeg) Close() error {
	l.closeOnce.Do(func() { l.closeErr = l.conn.Close() })
	return l.closeErr
}

func (s *Server) handleTelephony(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "telephony connection")
	defer span.End()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "Failed to upgrade telephony connection", "error", err)
		return
	}

	options := append([]orchestration.CallSessionOption{
		orchestration.WithRegistry(s.registry),
	}, s.sessionOptions...)

	session := orchestration.NewCallSession(&wsLeg{conn: conn}, options...)
	if err := session.Run(ctx); err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "Call session failed", "callID", session.CallID(), "error", err)
	}
}

// callListMessage is the first message an observer receives.
type callListMessage struct {
	Event string   `json:"event"`
	Calls []string `json:"calls"`
}

// callEndedMessage tells the observer the watched call is over.
type callEndedMessage struct {
	Event  string `json:"event"`
	CallID string `json:"callId"`
}

// errorMessage reports a rejected observer request.
type errorMessage struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// handleObserver serves one transcript observer: it announces the open
// calls, reads the observer's chosen call id, and relays that call's
// raw transcript messages until the call ends or the observer leaves.
func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "observer connection")
	defer span.End()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "Failed to upgrade observer connection", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(callListMessage{Event: "calls", Calls: s.registry.OpenCalls()}); err != nil {
		logger.WarnContext(ctx, "Failed to send call list", "error", err)
		return
	}

	_, rawCallID, err := conn.ReadMessage()
	if err != nil {
		return
	}
	callID := string(rawCallID)

	subscriber, err := s.registry.Subscribe(callID)
	if err != nil {
		if errors.Is(err, orchestration.ErrCallNotFound) {
			_ = conn.WriteJSON(errorMessage{Event: "error", Error: "call not found"})
		}
		return
	}
	defer s.registry.Unsubscribe(callID, subscriber.ID)

	// Detects the observer hanging up while the relay below is
	// blocked on the subscription.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case message, ok := <-subscriber.Messages():
			if !ok {
				return
			}
			if message.Terminal {
				_ = conn.WriteJSON(callEndedMessage{Event: "callEnded", CallID: callID})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message.Raw); err != nil {
				logger.WarnContext(ctx, "Failed to relay transcript", "callID", callID, "error", err)
				return
			}
		case <-disconnected:
			return
		}
	}
}

package orchestration

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrCallAlreadyOpen is returned when a call id is opened twice.
	ErrCallAlreadyOpen = errors.New("call is already open")
	// ErrCallNotFound is returned for operations on unknown call ids.
	ErrCallNotFound = errors.New("call not found")
)

// subscriberQueueCapacity bounds each observer's delivery queue. A
// slow observer starts losing messages instead of stalling the call.
const subscriberQueueCapacity = 64

// TranscriptMessage is one transcript payload fanned out to observers.
// The payload is the raw provider message, untouched.
type TranscriptMessage struct {
	CallID string
	Raw    []byte
	// Terminal marks the last message a subscriber receives for a
	// call, sent when the call closes.
	Terminal bool
}

// Subscriber is one observer attached to a call. Messages stop and
// the channel closes once a terminal message was delivered or the
// subscriber is unsubscribed.
type Subscriber struct {
	ID string

	messages  chan TranscriptMessage
	closeOnce sync.Once
}

// Messages is the subscriber's delivery channel.
func (s *Subscriber) Messages() <-chan TranscriptMessage {
	return s.messages
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.messages) })
}

// Registry tracks open calls and fans transcript messages out to the
// observers of each call.
type Registry struct {
	mu    sync.Mutex
	calls map[string]map[string]*Subscriber
}

func NewRegistry() *Registry {
	return &Registry{calls: map[string]map[string]*Subscriber{}}
}

// Open registers a call id. The id stays registered until CloseCall.
func (r *Registry) Open(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[callID]; ok {
		return ErrCallAlreadyOpen
	}

	r.calls[callID] = map[string]*Subscriber{}
	logger.Info("Call opened", "callID", callID)
	return nil
}

// OpenCalls lists the currently open call ids in stable order.
func (r *Registry) OpenCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Subscribe attaches a new observer to an open call.
func (r *Registry) Subscribe(callID string) (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, ok := r.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}

	subscriber := &Subscriber{
		ID:       uuid.NewString(),
		messages: make(chan TranscriptMessage, subscriberQueueCapacity),
	}
	subscribers[subscriber.ID] = subscriber
	return subscriber, nil
}

// Unsubscribe detaches an observer and closes its channel.
func (r *Registry) Unsubscribe(callID string, subscriberID string) {
	r.mu.Lock()
	subscriber := r.calls[callID][subscriberID]
	delete(r.calls[callID], subscriberID)
	r.mu.Unlock()

	if subscriber != nil {
		subscriber.close()
	}
}

// Publish delivers one transcript payload to every observer of the
// call. Each observer receives the message at most once; observers
// with a full queue are skipped.
func (r *Registry) Publish(callID string, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, ok := r.calls[callID]
	if !ok {
		return ErrCallNotFound
	}

	message := TranscriptMessage{CallID: callID, Raw: raw}
	for _, subscriber := range subscribers {
		select {
		case subscriber.messages <- message:
		default:
			logger.Warn("Dropping transcript message for slow subscriber",
				"callID", callID, "subscriberID", subscriber.ID)
		}
	}
	return nil
}

// CloseCall removes the call, delivering a terminal message to every
// observer before their channels close.
func (r *Registry) CloseCall(callID string) error {
	r.mu.Lock()
	subscribers, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return ErrCallNotFound
	}
	delete(r.calls, callID)
	r.mu.Unlock()

	terminal := TranscriptMessage{CallID: callID, Terminal: true}
	for _, subscriber := range subscribers {
		select {
		case subscriber.messages <- terminal:
		default:
			logger.Warn("Dropping terminal message for slow subscriber",
				"callID", callID, "subscriberID", subscriber.ID)
		}
		subscriber.close()
	}

	logger.Info("Call closed", "callID", callID)
	return nil
}

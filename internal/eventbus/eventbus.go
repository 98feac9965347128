// Package eventbus provides the broadcast channel that carries probe status
// messages from a single producer to any number of live subscribers.
//
// Every subscriber owns a bounded ring. Publishing never blocks: when a ring is
// full the oldest unread message is overwritten and the subscriber observes a
// LaggedError on its next receive, after which delivery resumes in order.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the per-subscriber ring size used when none is configured.
const DefaultCapacity = 1024

// TimestampLayout is the wall-clock format of Message.Timestamp.
const TimestampLayout = "15:04:05.000"

// ErrClosed is returned by Publish and Recv once the bus has been closed.
var ErrClosed = errors.New("eventbus: closed")

// Severity classifies a status message
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// CategoryLog is the only message category currently produced.
const CategoryLog = "log"

// Message is a single status record delivered to subscribers.
type Message struct {
	What      string   `json:"what"`
	Timestamp string   `json:"ts"`
	Type      Severity `json:"type,omitempty"`
	Text      string   `json:"text"`
	RunID     string   `json:"run_id,omitempty"`
}

// NewMessage builds a log message stamped with the current local time.
func NewMessage(severity Severity, text string) Message {
	return Message{
		What:      CategoryLog,
		Timestamp: time.Now().Format(TimestampLayout),
		Type:      severity,
		Text:      text,
	}
}

func (m Message) String() string {
	return fmt.Sprintf("Message{ts: %s, type: %s, text: %q}", m.Timestamp, m.Type, m.Text)
}

// LaggedError reports that a subscriber fell behind and lost Skipped messages.
// It is not terminal: the next Recv continues with the oldest retained message.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventbus: subscriber lagged, %d messages skipped", e.Skipped)
}

// IsLagged reports whether err is a LaggedError.
func IsLagged(err error) bool {
	var lagged *LaggedError
	return errors.As(err, &lagged)
}

// Bus is a multi-producer, multi-consumer broadcast of Messages.
// It is safe for concurrent use.
type Bus struct {
	// mu protects subscribers and closed
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool

	capacity int
}

// New creates a Bus whose subscribers each buffer up to capacity messages.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		capacity:    capacity,
	}
}

// Capacity returns the per-subscriber buffer size.
func (b *Bus) Capacity() int {
	return b.capacity
}

// Subscribe attaches a new consumer. The subscription sees only messages
// published after this call.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus:    b,
		ring:   make([]Message, b.capacity),
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Publish delivers msg to every current subscriber without blocking.
// Publishing with no subscribers is a no-op.
func (b *Bus) Publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subscribers {
		sub.push(msg)
	}
	return nil
}

// Len returns the number of attached subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close terminates the bus. Waiting receivers drain what they already buffered
// and then get ErrClosed. Calling Close more than once is harmless.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.markClosed()
	}
	b.subscribers = make(map[*Subscription]struct{})
	return nil
}

func (b *Bus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
}

// Subscription is a single consumer's view of the bus. It must not be shared
// between goroutines calling Recv.
type Subscription struct {
	bus *Bus

	// mu protects the ring state below
	mu      sync.Mutex
	ring    []Message
	head    int
	count   int
	skipped uint64
	closed  bool

	// notify holds at most one pending wake-up
	notify chan struct{}
}

func (s *Subscription) push(msg Message) {
	s.mu.Lock()
	size := len(s.ring)
	if s.count == size {
		s.head = (s.head + 1) % size
		s.count--
		s.skipped++
	}
	s.ring[(s.head+s.count)%size] = msg
	s.count++
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until the next message is available. It returns a *LaggedError
// once after messages were overwritten, ErrClosed after the bus is closed and
// the buffer drained, or ctx.Err() if ctx ends first.
func (s *Subscription) Recv(ctx context.Context) (Message, error) {
	for {
		msg, ok, err := s.tryRecv()
		if ok {
			return msg, err
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (s *Subscription) tryRecv() (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.skipped > 0 {
		lagged := &LaggedError{Skipped: s.skipped}
		s.skipped = 0
		return Message{}, true, lagged
	}
	if s.count > 0 {
		msg := s.ring[s.head]
		s.ring[s.head] = Message{}
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		return msg, true, nil
	}
	if s.closed {
		return Message{}, true, ErrClosed
	}
	return Message{}, false, nil
}

// Close detaches the subscription from the bus and releases its buffer.
func (s *Subscription) Close() {
	s.bus.detach(s)
	s.markClosed()
}

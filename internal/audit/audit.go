// Package audit emits write-only structured records of every externally
// visible delivery decision. The sink contract is fire-and-forget: recording
// an event must never block or fail the operation that produced it.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action enumerates the auditable outcomes of the delivery core.
type Action string

const (
	ActionNotificationCreated Action = "NOTIFICATION_CREATED"
	ActionDeliveryAttempted   Action = "DELIVERY_ATTEMPTED"
	ActionDeliverySucceeded   Action = "DELIVERY_SUCCEEDED"
	ActionDeliveryFailed      Action = "DELIVERY_FAILED"
	ActionConnectionOpened    Action = "CONNECTION_OPENED"
	ActionConnectionClosed    Action = "CONNECTION_CLOSED"
	ActionConnectionRejected  Action = "CONNECTION_REJECTED"
	ActionRateLimited         Action = "RATE_LIMITED"
	ActionNotificationRead    Action = "NOTIFICATION_READ"
)

// Event is one audit record.
type Event struct {
	Timestamp      time.Time
	Action         Action
	RecipientID    string
	NotificationID string
	Channel        string
	Error          string
}

// Sink receives audit events. Implementations must not block the caller.
type Sink interface {
	Record(e Event)
}

// ZapSink writes audit events through a dedicated zap logger on a background
// goroutine. Events are dropped, and counted, when the buffer is full: a slow
// or wedged audit backend must never backpressure delivery.
type ZapSink struct {
	logger *zap.Logger
	events chan Event
	done   chan struct{}
	onDrop func()

	mu     sync.Mutex
	closed bool
}

// NewZapSink starts the sink's writer goroutine. Call Close to flush and stop.
// onDrop is invoked once per dropped event; nil means no-op.
func NewZapSink(logger *zap.Logger, buffer int, onDrop func()) *ZapSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	s := &ZapSink{
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	go s.run()
	return s
}

func (s *ZapSink) run() {
	defer close(s.done)
	for e := range s.events {
		fields := []zap.Field{
			zap.Time("timestamp", e.Timestamp),
			zap.String("action", string(e.Action)),
			zap.String("recipient_id", e.RecipientID),
		}
		if e.NotificationID != "" {
			fields = append(fields, zap.String("notification_id", e.NotificationID))
		}
		if e.Channel != "" {
			fields = append(fields, zap.String("channel", e.Channel))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		s.logger.Info("audit", fields...)
	}
}

// Record enqueues the event without blocking. Events recorded after Close
// are dropped; lingering connection teardowns must not crash shutdown.
func (s *ZapSink) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.onDrop()
		return
	}
	select {
	case s.events <- e:
	default:
		s.onDrop()
	}
}

// Close stops accepting events and waits for the buffer to drain.
// Safe to call more than once.
func (s *ZapSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

var (
	_ Sink = (*ZapSink)(nil)
	_ Sink = NopSink{}
)

// Package emitter decouples event production on the tick loop from network
// delivery. Producers never block: when the queue is full the oldest pending
// message is dropped.
package emitter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// Message is one unit of outbound work: either a lifecycle event or, when
// Action is set, a manual intervention.
type Message struct {
	ID        string
	SubjectID string
	Event     logic.Event
	Action    logic.Action
	QueuedAt  time.Time
}

// IsIntervention reports whether the message carries a manual override.
func (m Message) IsIntervention() bool {
	return m.Action != ""
}

// NewEventMessage wraps a lifecycle event.
func NewEventMessage(subjectID string, e logic.Event) Message {
	return Message{ID: uuid.NewString(), SubjectID: subjectID, Event: e, QueuedAt: e.Timestamp}
}

// NewInterventionMessage wraps a manual override.
func NewInterventionMessage(subjectID string, action logic.Action, at time.Time) Message {
	return Message{ID: uuid.NewString(), SubjectID: subjectID, Action: action, QueuedAt: at}
}

// ErrSkipped is returned by a sink that does not carry a kind of message.
// It counts as neither sent nor failed for that sink.
var ErrSkipped = errors.New("message not carried by sink")

// Sink delivers a message somewhere. Implementations own their retries.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// Queue is a bounded FIFO drained by Run.
type Queue struct {
	mu      sync.Mutex // serializes producers for drop-oldest
	ch      chan Message
	sinks   []Sink
	logger  *zap.Logger
	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// NewQueue creates a queue holding at most size pending messages.
func NewQueue(size int, logger *zap.Logger, sinks ...Sink) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:     make(chan Message, size),
		sinks:  sinks,
		logger: logger.With(zap.String("component", "emitter")),
	}
}

// Enqueue adds m without blocking, evicting the oldest pending message if
// the queue is full.
func (q *Queue) Enqueue(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- m:
		return
	default:
	}

	select {
	case old := <-q.ch:
		q.dropped.Add(1)
		q.logger.Warn("queue full, dropping oldest message",
			zap.String("dropped_id", old.ID),
			zap.String("dropped_type", describe(old)),
			zap.Int("capacity", cap(q.ch)))
	default:
	}

	select {
	case q.ch <- m:
	default:
		// never block the producer
		q.dropped.Add(1)
	}
}

// Run delivers messages to every sink until ctx is cancelled. Delivery
// failures are logged and the message is not requeued.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-q.ch:
			q.deliver(ctx, m)
		}
	}
}

// Flush delivers whatever is pending, bounded by ctx. Used on shutdown.
func (q *Queue) Flush(ctx context.Context) {
	for {
		select {
		case m := <-q.ch:
			q.deliver(ctx, m)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, m Message) {
	carried := false
	for _, s := range q.sinks {
		err := s.Deliver(ctx, m)
		if errors.Is(err, ErrSkipped) {
			continue
		}
		carried = true
		if err != nil {
			q.failed.Add(1)
			q.logger.Error("delivery failed",
				zap.String("sink", s.Name()),
				zap.String("id", m.ID),
				zap.String("type", describe(m)),
				zap.Error(err))
			continue
		}
		q.sent.Add(1)
	}
	if !carried {
		q.failed.Add(1)
		q.logger.Error("no sink carries message",
			zap.String("id", m.ID),
			zap.String("type", describe(m)))
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending int
	Dropped uint64
	Sent    uint64
	Failed  uint64
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending: len(q.ch),
		Dropped: q.dropped.Load(),
		Sent:    q.sent.Load(),
		Failed:  q.failed.Load(),
	}
}

func describe(m Message) string {
	if m.IsIntervention() {
		return "intervention:" + string(m.Action)
	}
	return string(m.Event.Type)
}

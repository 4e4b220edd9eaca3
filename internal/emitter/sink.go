package emitter

import (
	"context"

	"github.com/sweeney/crib-sensor/internal/mqtt"
)

// PublisherSink forwards lifecycle events to an MQTT publisher. Interventions
// are HTTP-only; Deliver returns ErrSkipped for them.
type PublisherSink struct {
	Publisher mqtt.Publisher
}

// Name implements Sink.
func (s PublisherSink) Name() string { return "mqtt" }

// Deliver implements Sink.
func (s PublisherSink) Deliver(_ context.Context, m Message) error {
	if m.IsIntervention() {
		return ErrSkipped
	}
	return s.Publisher.Publish(m.SubjectID, m.Event)
}

// FakeSink records delivered messages for tests.
type FakeSink struct {
	Err       error
	Delivered []Message
	// Block, if set, is received from before each delivery.
	Block chan struct{}
	// Done, if set, receives each delivered message.
	Done chan Message
}

// Name implements Sink.
func (f *FakeSink) Name() string { return "fake" }

// Deliver implements Sink.
func (f *FakeSink) Deliver(ctx context.Context, m Message) error {
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil {
		return f.Err
	}
	f.Delivered = append(f.Delivered, m)
	if f.Done != nil {
		f.Done <- m
	}
	return nil
}

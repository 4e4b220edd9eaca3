package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler receives decoded lifecycle events.
type Handler func(Incoming)

// Subscriber feeds lifecycle events published by devices into a handler.
type Subscriber struct {
	client paho.Client
	logger *zap.Logger
}

// NewSubscriber connects to the broker and subscribes to Topic. The
// subscription is re-established on every reconnect.
func NewSubscriber(o Options, logger *zap.Logger, h Handler) (*Subscriber, error) {
	s := &Subscriber{logger: logger.With(zap.String("component", "mqtt-subscriber"), zap.String("broker", o.Broker))}

	opts := o.clientOptions().SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(Topic, 1, func(_ paho.Client, msg paho.Message) {
			s.dispatch(msg.Payload(), h)
		})
		if !token.WaitTimeout(5 * time.Second) {
			s.logger.Error("subscribe timeout", zap.String("topic", Topic))
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", zap.String("topic", Topic), zap.Error(err))
			return
		}
		s.logger.Info("subscribed", zap.String("topic", Topic))
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return s, nil
}

func (s *Subscriber) dispatch(payload []byte, h Handler) {
	in, err := ParsePayload(payload)
	if err != nil {
		s.logger.Warn("dropping malformed event", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	h(in)
}

// Close disconnects from the broker.
func (s *Subscriber) Close() error {
	s.client.Disconnect(1000)
	return nil
}

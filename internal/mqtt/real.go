package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// DefaultBufferSize is how many messages are held while the broker is unreachable.
const DefaultBufferSize = 256

// Options configures a broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

func (o Options) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	return opts
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client
	logger *zap.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. The connection is
// established in the background so a missing broker never blocks startup.
func NewRealPublisher(o Options, logger *zap.Logger) *RealPublisher {
	p := &RealPublisher{
		logger: logger.With(zap.String("component", "mqtt"), zap.String("broker", o.Broker)),
		buf:    newRingBuffer(DefaultBufferSize),
	}

	opts := o.clientOptions().
		SetWill(TopicSystem, string(willPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.logger.Info("connected", zap.Int("replaying", len(pending)))
	for _, m := range pending {
		if err := p.send(m); err != nil {
			p.logger.Warn("replay failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a lifecycle event to the MQTT broker.
func (p *RealPublisher) Publish(subjectID string, event logic.Event) error {
	payload, err := FormatPayload(subjectID, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: lifecycle events drive server state
	return p.publishOrBuffer(bufferedMsg{topic: Topic, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publishOrBuffer(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publishOrBuffer(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		if p.buf.push(m) {
			p.logger.Warn("offline buffer full, dropping oldest", zap.Int("capacity", p.buf.capacity))
		}
		p.mu.Unlock()
		return nil
	}
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// Package mqtt carries lifecycle and system events over MQTT, with a fake
// publisher for tests.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// Topic is the MQTT topic for lifecycle events.
const Topic = "crib/sensor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "crib/sensor/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a lifecycle event for subjectID to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(subjectID string, event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Event EventPayload `json:"event"`
}

// EventPayload contains the lifecycle event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	SubjectID string `json:"subject_id"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a lifecycle event.
func FormatPayload(subjectID string, event logic.Event) ([]byte, error) {
	payload := Payload{
		Event: EventPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Type:      string(event.Type),
			SubjectID: subjectID,
			State:     string(event.To),
		},
	}
	return json.Marshal(payload)
}

// Incoming is a decoded lifecycle event received by a subscriber.
type Incoming struct {
	SubjectID string
	Type      logic.EventType
	Timestamp time.Time
}

// ParsePayload decodes a lifecycle event payload.
func ParsePayload(b []byte) (Incoming, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Incoming{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Event.SubjectID == "" {
		return Incoming{}, errors.New("payload missing subject_id")
	}
	typ := logic.EventType(p.Event.Type)
	switch typ {
	case logic.EventSleepStart, logic.EventSleepEnd, logic.EventBabyAway:
	default:
		return Incoming{}, fmt.Errorf("unknown event type %q", p.Event.Type)
	}
	ts, err := time.Parse(time.RFC3339, p.Event.Timestamp)
	if err != nil {
		return Incoming{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return Incoming{SubjectID: p.Event.SubjectID, Type: typ, Timestamp: ts}, nil
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is published by the broker if the device drops off without a
// clean disconnect.
func willPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "LWT"}})
	return b
}

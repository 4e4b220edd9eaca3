// Package logic contains the pure sleep/wake detection logic for the crib sensor.
// This package has NO external dependencies (no UART, GPIO, MQTT, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Label is a single classifier verdict.
// Declaration order doubles as the tie-break order for the majority vote.
type Label int

const (
	LabelAsleep Label = iota
	LabelAwake
	LabelNoSubject

	numLabels = 3
)

var labelNames = [numLabels]string{"Asleep", "Awake", "No Baby Found"}

// String returns the verdict text as the classifier emits it.
func (l Label) String() string {
	if l < 0 || l >= numLabels {
		return "Unknown"
	}
	return labelNames[l]
}

// ParseLabel maps classifier verdict text to a Label.
func ParseLabel(s string) (Label, bool) {
	for i, name := range labelNames {
		if s == name {
			return Label(i), true
		}
	}
	return 0, false
}

// State represents the lifecycle state of the monitored subject.
type State string

const (
	StateAwake  State = "awake"
	StateAsleep State = "asleep"
	StateAway   State = "away"
)

// EventType represents a lifecycle transition event.
type EventType string

const (
	EventSleepStart EventType = "sleep-start"
	EventSleepEnd   EventType = "sleep-end"
	EventBabyAway   EventType = "baby-away"
)

// Action is a caregiver override, sent by the device buttons and applied by
// the server.
type Action string

const (
	ActionMarkAsleep Action = "mark_asleep"
	ActionMarkAwake  Action = "mark_awake"
)

// ErrInvalidAction is returned by ParseAction for anything but the two actions.
var ErrInvalidAction = errors.New("invalid action")

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMarkAsleep, ActionMarkAwake:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Event represents a state transition to be emitted.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      State
	To        State
}

// Reading is one classifier verdict with its confidence.
type Reading struct {
	Label      Label
	Confidence int
	ObservedAt time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	SleepStart int
	SleepEnd   int
	BabyAway   int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

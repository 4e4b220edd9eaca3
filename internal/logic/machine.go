package logic

import "time"

// Machine holds the subject's lifecycle state and emits an event only on
// transitions that matter downstream. Re-affirming the current state is a no-op.
type Machine struct {
	state State
}

// NewMachine creates a state machine in the initial Away state.
func NewMachine() *Machine {
	return &Machine{state: StateAway}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// Handle applies a debounced label and returns the event to emit, if any.
//
//	any           + Asleep    -> Asleep  sleep-start (unless already asleep)
//	Asleep        + Awake     -> Awake   sleep-end
//	Away          + Awake     -> Awake   (no prior sleep to close)
//	Asleep/Awake  + NoSubject -> Away    baby-away
func (m *Machine) Handle(label Label, now time.Time) (Event, bool) {
	prev := m.state
	var next State
	var eventType EventType

	switch label {
	case LabelAsleep:
		next = StateAsleep
		if prev != StateAsleep {
			eventType = EventSleepStart
		}
	case LabelAwake:
		next = StateAwake
		if prev == StateAsleep {
			eventType = EventSleepEnd
		}
	case LabelNoSubject:
		next = StateAway
		if prev == StateAsleep || prev == StateAwake {
			eventType = EventBabyAway
		}
	default:
		return Event{}, false
	}

	m.state = next
	if eventType == "" {
		return Event{}, false
	}
	return Event{
		Timestamp: now,
		Type:      eventType,
		From:      prev,
		To:        next,
	}, true
}

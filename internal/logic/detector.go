package logic

import "time"

// Detector chains the debouncer into the lifecycle state machine and keeps
// the counters reported in heartbeats.
type Detector struct {
	debouncer     *Debouncer
	machine       *Machine
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
	lastVerdict   Label
	hasVerdict    bool
}

// NewDetector creates a detector with the given debounce window and confidence threshold.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(window time.Duration, threshold int, startTime time.Time) *Detector {
	return &Detector{
		debouncer:     NewDebouncer(window, threshold),
		machine:       NewMachine(),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process feeds one reading and returns the lifecycle event it caused, if any.
// At most one transition is evaluated per reading.
func (d *Detector) Process(r Reading) (Event, bool) {
	label, ok := d.debouncer.Feed(r.Label, r.Confidence, r.ObservedAt)
	if !ok {
		return Event{}, false
	}
	d.lastVerdict = label
	d.hasVerdict = true

	event, ok := d.machine.Handle(label, r.ObservedAt)
	if !ok {
		return Event{}, false
	}

	switch event.Type {
	case EventSleepStart:
		d.eventCounts.SleepStart++
	case EventSleepEnd:
		d.eventCounts.SleepEnd++
	case EventBabyAway:
		d.eventCounts.BabyAway++
	}
	return event, true
}

// CurrentState returns the lifecycle state.
func (d *Detector) CurrentState() State {
	return d.machine.State()
}

// LastVerdict returns the most recent debounced label and whether one has
// been produced since startup.
func (d *Detector) LastVerdict() (Label, bool) {
	return d.lastVerdict, d.hasVerdict
}

// EventCountsSnapshot returns a copy of the event counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}

// Package status provides a thread-safe view of the crib-sensor daemon state.
// It is read by the HTTP status page and by heartbeat system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// QueueStats mirrors the emitter queue counters.
type QueueStats struct {
	Pending int
	Dropped uint64
	Sent    uint64
	Failed  uint64
}

// Config contains daemon configuration for display.
type Config struct {
	SubjectID   string
	WindowMs    int64
	Threshold   int
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	ServerURL   string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State logic.State

	// Last raw classifier reading.
	Reading    logic.Reading
	HasReading bool

	// Last debounced verdict.
	Verdict    logic.Label
	HasVerdict bool

	Counts        logic.EventCounts
	Queue         QueueStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
// The lifecycle state starts Away.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.StateAway,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the lifecycle state, last verdict and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(state logic.State, verdict logic.Label, hasVerdict bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Verdict = verdict
	t.snap.HasVerdict = hasVerdict
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetReading records the latest raw classifier reading.
func (t *Tracker) SetReading(r logic.Reading) {
	t.mu.Lock()
	t.snap.Reading = r
	t.snap.HasReading = true
	t.mu.Unlock()
}

// SetQueue records the emitter queue counters.
func (t *Tracker) SetQueue(q QueueStats) {
	t.mu.Lock()
	t.snap.Queue = q
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

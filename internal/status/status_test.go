package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/crib-sensor/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{SubjectID: "b1", WindowMs: 25000, Threshold: 600, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.Threshold != 600 {
		t.Errorf("Config.Threshold: got %d, want 600", snap.Config.Threshold)
	}
	if snap.State != logic.StateAway {
		t.Errorf("State: got %q, want away", snap.State)
	}
	if snap.HasVerdict || snap.HasReading {
		t.Error("expected no verdict or reading initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(logic.StateAsleep, logic.LabelAsleep, true, logic.EventCounts{SleepStart: 3, BabyAway: 1})

	snap := tr.Snapshot()
	if snap.State != logic.StateAsleep {
		t.Errorf("State: got %q, want asleep", snap.State)
	}
	if !snap.HasVerdict || snap.Verdict != logic.LabelAsleep {
		t.Errorf("Verdict: got %s (ok=%v), want Asleep", snap.Verdict, snap.HasVerdict)
	}
	if snap.Counts.SleepStart != 3 {
		t.Errorf("Counts.SleepStart: got %d, want 3", snap.Counts.SleepStart)
	}
	if snap.Counts.BabyAway != 1 {
		t.Errorf("Counts.BabyAway: got %d, want 1", snap.Counts.BabyAway)
	}
}

func TestSetReadingAndQueue(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 21, 0, 0, 0, time.UTC)

	tr.SetReading(logic.Reading{Label: logic.LabelAwake, Confidence: 87, ObservedAt: at})
	tr.SetQueue(QueueStats{Pending: 2, Dropped: 1, Sent: 10})

	snap := tr.Snapshot()
	if !snap.HasReading || snap.Reading.Confidence != 87 {
		t.Errorf("Reading: got %+v (ok=%v)", snap.Reading, snap.HasReading)
	}
	if snap.Queue.Pending != 2 || snap.Queue.Dropped != 1 || snap.Queue.Sent != 10 {
		t.Errorf("Queue: got %+v", snap.Queue)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	snap := tr.Snapshot()
	if snap.Network == nil || snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network: got %+v", snap.Network)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(logic.StateAsleep, logic.LabelAsleep, true, logic.EventCounts{SleepStart: 1})

	snap1 := tr.Snapshot()

	tr.Update(logic.StateAwake, logic.LabelAwake, true, logic.EventCounts{SleepStart: 1, SleepEnd: 1})

	if snap1.State != logic.StateAsleep {
		t.Error("snapshot should be a copy; State was modified")
	}
	if snap1.Counts.SleepEnd != 0 {
		t.Error("snapshot should be a copy; Counts was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:         logic.StateAsleep,
		Verdict:       logic.LabelAsleep,
		HasVerdict:    true,
		Reading:       logic.Reading{Label: logic.LabelAsleep, Confidence: 92, ObservedAt: start.Add(14 * time.Minute)},
		HasReading:    true,
		Counts:        logic.EventCounts{SleepStart: 5, SleepEnd: 2},
		Queue:         QueueStats{Pending: 1, Sent: 7},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{SubjectID: "b1", WindowMs: 25000, Threshold: 600, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.SubjectID != "b1" {
		t.Errorf("SubjectID: got %q, want b1", parsed.Status.SubjectID)
	}
	if parsed.Status.State != "asleep" {
		t.Errorf("State: got %q, want asleep", parsed.Status.State)
	}
	if parsed.Status.Verdict != "Asleep" {
		t.Errorf("Verdict: got %q, want Asleep", parsed.Status.Verdict)
	}
	if parsed.Status.Reading == nil || parsed.Status.Reading.Confidence != 92 {
		t.Errorf("Reading: got %+v", parsed.Status.Reading)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.SleepStart != 5 {
		t.Errorf("Counts.SleepStart: got %d, want 5", parsed.Status.Counts.SleepStart)
	}
	if parsed.Status.Queue.Sent != 7 {
		t.Errorf("Queue.Sent: got %d, want 7", parsed.Status.Queue.Sent)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Errorf("expected empty Event/Reason for web format, got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.State != "unknown" {
		t.Errorf("State: got %q, want unknown", parsed.Status.State)
	}
	if parsed.Status.Reading != nil {
		t.Error("expected no reading")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     logic.StateAwake,
		Counts:    logic.EventCounts{SleepEnd: 3},
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.State != "awake" {
		t.Errorf("State: got %q, want awake", parsed.Status.State)
	}
	if parsed.Status.Counts.SleepEnd != 3 {
		t.Errorf("Counts.SleepEnd: got %d, want 3", parsed.Status.Counts.SleepEnd)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     logic.StateAway,
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		State:     logic.StateAway,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "Nursery"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.SSID != "Nursery" {
		t.Errorf("Network.SSID: got %q, want Nursery", parsed.Status.Network.SSID)
	}
}

func TestFormatSensorData(t *testing.T) {
	snap := Snapshot{State: logic.StateAway, Config: Config{SubjectID: "b1"}}

	var d SensorDataJSON
	if err := json.Unmarshal(FormatSensorData(snap), &d); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if d.Verdict != "No Baby Found" || d.Confidence != 0 || d.SleepState != "away" {
		t.Errorf("before first reading: got %+v", d)
	}

	snap.State = logic.StateAsleep
	snap.Reading = logic.Reading{Label: logic.LabelAsleep, Confidence: 77}
	snap.HasReading = true
	json.Unmarshal(FormatSensorData(snap), &d)
	if d.SubjectID != "b1" || d.Verdict != "Asleep" || d.Confidence != 77 || d.SleepState != "asleep" {
		t.Errorf("got %+v", d)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(logic.StateAsleep, logic.LabelAsleep, true, logic.EventCounts{SleepStart: i})
			tr.SetReading(logic.Reading{Label: logic.LabelAsleep, Confidence: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}

package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	SubjectID     string       `json:"subject_id"`
	State         string       `json:"state"`
	Verdict       string       `json:"verdict,omitempty"`
	Reading       *ReadingJSON `json:"last_reading,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Queue         QueueJSON    `json:"queue"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ReadingJSON is the last raw classifier reading.
type ReadingJSON struct {
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	ObservedAt string `json:"observed_at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// QueueJSON is the JSON representation of the emitter queue counters.
type QueueJSON struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SleepStart int `json:"sleep_start"`
	SleepEnd   int `json:"sleep_end"`
	BabyAway   int `json:"baby_away"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	WindowMs    int64  `json:"window_ms"`
	Threshold   int    `json:"threshold"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker,omitempty"`
	ServerURL   string `json:"server_url,omitempty"`
	HTTPAddr    string `json:"http_addr"`
}

// SensorDataJSON is the flat /sensor-data document.
type SensorDataJSON struct {
	SubjectID  string `json:"subject_id"`
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	SleepState string `json:"sleep_state"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		SubjectID:     snap.Config.SubjectID,
		State:         string(snap.State),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Queue: QueueJSON{
			Pending: snap.Queue.Pending,
			Dropped: snap.Queue.Dropped,
			Sent:    snap.Queue.Sent,
			Failed:  snap.Queue.Failed,
		},
		Counts: CountsJSON{
			SleepStart: snap.Counts.SleepStart,
			SleepEnd:   snap.Counts.SleepEnd,
			BabyAway:   snap.Counts.BabyAway,
		},
		Config: ConfigJSON{
			WindowMs:    snap.Config.WindowMs,
			Threshold:   snap.Config.Threshold,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			ServerURL:   snap.Config.ServerURL,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if inner.State == "" {
		inner.State = "unknown"
	}
	if snap.HasVerdict {
		inner.Verdict = snap.Verdict.String()
	}
	if snap.HasReading {
		inner.Reading = &ReadingJSON{
			Verdict:    snap.Reading.Label.String(),
			Confidence: snap.Reading.Confidence,
			ObservedAt: snap.Reading.ObservedAt.UTC().Format(time.RFC3339),
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatSensorData returns the /sensor-data document. Before the first
// reading the verdict is reported as no subject with zero confidence.
func FormatSensorData(snap Snapshot) []byte {
	d := SensorDataJSON{
		SubjectID:  snap.Config.SubjectID,
		Verdict:    "No Baby Found",
		SleepState: string(snap.State),
	}
	if snap.HasReading {
		d.Verdict = snap.Reading.Label.String()
		d.Confidence = snap.Reading.Confidence
	}
	data, _ := json.Marshal(d)
	return data
}

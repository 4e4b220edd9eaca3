package blocks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects which query shape a Record came from.
type Kind int

const (
	// KindEvent is a raw awakening event carrying its event_metadata JSON.
	KindEvent Kind = iota + 1
	// KindSession is a session row with both timestamps and a duration.
	KindSession
	// KindAwakening is a recent-awakening row: end time and duration only.
	KindAwakening
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindSession:
		return "session"
	case KindAwakening:
		return "awakening"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Record is one input to the aggregator. Only the fields of its Kind are read.
type Record struct {
	Kind Kind
	ID   int64

	// KindEvent
	Metadata json.RawMessage

	// KindSession and KindAwakening
	SleepStartedAt  time.Time
	AwakenedAt      time.Time
	DurationMinutes *float64
}

// EventRecord wraps a stored awakening event.
func EventRecord(id int64, metadata json.RawMessage) Record {
	return Record{Kind: KindEvent, ID: id, Metadata: metadata}
}

// SessionRecord wraps a sessions-for-range row.
func SessionRecord(start, end time.Time, durationMinutes *float64) Record {
	return Record{Kind: KindSession, SleepStartedAt: start, AwakenedAt: end, DurationMinutes: durationMinutes}
}

// AwakeningRecord wraps a recent-awakenings row. The start is derived.
func AwakeningRecord(id int64, end time.Time, durationMinutes *float64) Record {
	return Record{Kind: KindAwakening, ID: id, AwakenedAt: end, DurationMinutes: durationMinutes}
}

// Metadata is the event_metadata document stored with each awakening event.
type Metadata struct {
	SleepStartedAt       string          `json:"sleep_started_at"`
	AwakenedAt           string          `json:"awakened_at"`
	SleepDurationMinutes *float64        `json:"sleep_duration_minutes"`
	LastSensorReadings   json.RawMessage `json:"last_sensor_readings,omitempty"`
	AIInsight            *string         `json:"ai_insight,omitempty"`
}

// Normalized is a record reduced to a start, an end and a raw duration.
type Normalized struct {
	Start           time.Time
	End             time.Time
	DurationMinutes float64
	Source          Record
}

var (
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrUnknownKind      = errors.New("unknown record kind")
)

// Normalize reduces r according to its Kind. A missing duration counts as 0.
func Normalize(r Record) (Normalized, error) {
	switch r.Kind {
	case KindEvent:
		var m Metadata
		if err := json.Unmarshal(r.Metadata, &m); err != nil {
			return Normalized{}, fmt.Errorf("decode metadata: %w", err)
		}
		start, err := ParseTimestamp(m.SleepStartedAt)
		if err != nil {
			return Normalized{}, fmt.Errorf("sleep_started_at: %w", err)
		}
		end, err := ParseTimestamp(m.AwakenedAt)
		if err != nil {
			return Normalized{}, fmt.Errorf("awakened_at: %w", err)
		}
		return Normalized{Start: start, End: end, DurationMinutes: deref(m.SleepDurationMinutes), Source: r}, nil

	case KindSession:
		if r.SleepStartedAt.IsZero() || r.AwakenedAt.IsZero() {
			return Normalized{}, ErrMissingTimestamp
		}
		return Normalized{Start: r.SleepStartedAt, End: r.AwakenedAt, DurationMinutes: deref(r.DurationMinutes), Source: r}, nil

	case KindAwakening:
		if r.AwakenedAt.IsZero() {
			return Normalized{}, ErrMissingTimestamp
		}
		d := deref(r.DurationMinutes)
		start := r.AwakenedAt.Add(-time.Duration(d * float64(time.Minute)))
		return Normalized{Start: start, End: r.AwakenedAt, DurationMinutes: d, Source: r}, nil
	}
	return Normalized{}, fmt.Errorf("%w: %d", ErrUnknownKind, int(r.Kind))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and ISO-8601 timestamps with or without an
// offset. Timestamps without one are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

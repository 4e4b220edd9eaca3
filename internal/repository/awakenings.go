package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/blocks"
)

// SensorReadings are the room conditions attached to an awakening record.
type SensorReadings struct {
	TempCelsius  *float64  `json:"temp_celsius"`
	Humidity     *float64  `json:"humidity"`
	NoiseDecibel *float64  `json:"noise_decibel"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Awakening is a stored awakening event.
type Awakening struct {
	ID              int64
	SubjectID       string
	SleepStartedAt  time.Time
	AwakenedAt      time.Time
	DurationMinutes float64
	Readings        *SensorReadings
}

// Metadata renders a as the event_metadata document.
func (a Awakening) Metadata() ([]byte, error) {
	d := a.DurationMinutes
	m := blocks.Metadata{
		SleepStartedAt:       a.SleepStartedAt.UTC().Format(time.RFC3339Nano),
		AwakenedAt:           a.AwakenedAt.UTC().Format(time.RFC3339Nano),
		SleepDurationMinutes: &d,
	}
	if a.Readings != nil {
		raw, err := json.Marshal(a.Readings)
		if err != nil {
			return nil, err
		}
		m.LastSensorReadings = raw
	} else {
		m.LastSensorReadings = json.RawMessage("null")
	}
	return json.Marshal(m)
}

// AwakeningRepository reads and writes awakening_events.
type AwakeningRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAwakeningRepository creates a repository.
func NewAwakeningRepository(db *sql.DB, logger *zap.Logger) *AwakeningRepository {
	return &AwakeningRepository{
		db:     db,
		logger: logger.With(zap.String("component", "repository")),
	}
}

// Insert stores a and returns its id.
func (r *AwakeningRepository) Insert(ctx context.Context, a Awakening) (int64, error) {
	if a.SubjectID == "" {
		return 0, errors.New("subject_id is required")
	}
	meta, err := a.Metadata()
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO awakening_events (subject_id, event_metadata) VALUES ($1, $2) RETURNING id`,
		a.SubjectID, meta,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert awakening event: %w", err)
	}
	r.logger.Debug("awakening stored",
		zap.Int64("id", id),
		zap.String("subject_id", a.SubjectID),
		zap.Float64("duration_minutes", a.DurationMinutes))
	return id, nil
}

// EventsForPeriod returns raw events whose awakening falls in [from, to).
func (r *AwakeningRepository) EventsForPeriod(ctx context.Context, subjectID string, from, to time.Time) ([]blocks.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_metadata
		FROM awakening_events
		WHERE subject_id = $1
		  AND (event_metadata->>'awakened_at')::timestamptz >= $2
		  AND (event_metadata->>'awakened_at')::timestamptz < $3
		ORDER BY (event_metadata->>'awakened_at')::timestamptz ASC`,
		subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events for period: %w", err)
	}
	defer rows.Close()

	var out []blocks.Record
	for rows.Next() {
		var id int64
		var meta []byte
		if err := rows.Scan(&id, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, blocks.EventRecord(id, json.RawMessage(meta)))
	}
	return out, rows.Err()
}

// SessionsForRange returns one session row per event awakened in [from, to).
func (r *AwakeningRepository) SessionsForRange(ctx context.Context, subjectID string, from, to time.Time) ([]blocks.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,
		       (event_metadata->>'sleep_started_at')::timestamptz,
		       (event_metadata->>'awakened_at')::timestamptz,
		       (event_metadata->>'sleep_duration_minutes')::float8
		FROM awakening_events
		WHERE subject_id = $1
		  AND (event_metadata->>'awakened_at')::timestamptz >= $2
		  AND (event_metadata->>'awakened_at')::timestamptz < $3
		ORDER BY (event_metadata->>'awakened_at')::timestamptz ASC`,
		subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query sessions for range: %w", err)
	}
	defer rows.Close()

	var out []blocks.Record
	for rows.Next() {
		var (
			id         int64
			start, end sql.NullTime
			dur        sql.NullFloat64
		)
		if err := rows.Scan(&id, &start, &end, &dur); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec := blocks.SessionRecord(start.Time, end.Time, nullFloat(dur))
		rec.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentAwakenings returns the latest limit awakenings, newest first. Only
// the end time and duration are read.
func (r *AwakeningRepository) RecentAwakenings(ctx context.Context, subjectID string, limit int) ([]blocks.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,
		       (event_metadata->>'awakened_at')::timestamptz,
		       (event_metadata->>'sleep_duration_minutes')::float8
		FROM awakening_events
		WHERE subject_id = $1
		ORDER BY (event_metadata->>'awakened_at')::timestamptz DESC
		LIMIT $2`,
		subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent awakenings: %w", err)
	}
	defer rows.Close()

	var out []blocks.Record
	for rows.Next() {
		var (
			id  int64
			end sql.NullTime
			dur sql.NullFloat64
		)
		if err := rows.Scan(&id, &end, &dur); err != nil {
			return nil, fmt.Errorf("scan awakening: %w", err)
		}
		out = append(out, blocks.AwakeningRecord(id, end.Time, nullFloat(dur)))
	}
	return out, rows.Err()
}

// LastSensorReadings returns the most recent room readings, or nil if none.
func (r *AwakeningRepository) LastSensorReadings(ctx context.Context, subjectID string) (*SensorReadings, error) {
	var (
		s                  SensorReadings
		temp, humid, noise sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT recorded_at, temp_celsius, humidity, noise_decibel
		FROM sensor_readings
		WHERE subject_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, subjectID).Scan(&s.RecordedAt, &temp, &humid, &noise)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sensor readings: %w", err)
	}
	s.TempCelsius, s.Humidity, s.NoiseDecibel = nullFloat(temp), nullFloat(humid), nullFloat(noise)
	return &s, nil
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

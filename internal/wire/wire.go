// Package wire holds the JSON bodies exchanged between crib-sensor and
// crib-server.
package wire

import (
	"time"

	"github.com/sweeney/crib-sensor/internal/blocks"
)

// ReasonInterventionCooldown marks an automatic event ignored because a
// caregiver acted recently.
const ReasonInterventionCooldown = "intervention_cooldown"

// SubjectRequest is the body of the lifecycle endpoints.
type SubjectRequest struct {
	SubjectID  string     `json:"subject_id"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// InterventionRequest is the body of POST /sensor/intervention.
type InterventionRequest struct {
	SubjectID string `json:"subject_id"`
	Action    string `json:"action"`
}

// Ignored is returned with HTTP 200 when a lifecycle event is dropped by policy.
type Ignored struct {
	Ignored                  bool   `json:"ignored"`
	Reason                   string `json:"reason"`
	CooldownRemainingMinutes int    `json:"cooldown_remaining_minutes"`
}

// SleepStartResponse answers POST /sensor/sleep-start.
type SleepStartResponse struct {
	SubjectID      string    `json:"subject_id"`
	SleepStartedAt time.Time `json:"sleep_started_at"`
	Created        bool      `json:"created"`
}

// SleepEndResponse answers POST /sensor/sleep-end.
type SleepEndResponse struct {
	SubjectID            string     `json:"subject_id"`
	WasSleeping          bool       `json:"was_sleeping"`
	EventID              *int64     `json:"event_id,omitempty"`
	SleepStartedAt       *time.Time `json:"sleep_started_at,omitempty"`
	AwakenedAt           time.Time  `json:"awakened_at"`
	SleepDurationMinutes *float64   `json:"sleep_duration_minutes,omitempty"`
}

// BabyAwayResponse answers POST /sensor/baby-away.
type BabyAwayResponse struct {
	SubjectID               string   `json:"subject_id"`
	WasSleeping             bool     `json:"was_sleeping"`
	TrackingDurationMinutes *float64 `json:"tracking_duration_minutes,omitempty"`
}

// InterventionResponse answers POST /sensor/intervention.
type InterventionResponse struct {
	SubjectID       string    `json:"subject_id"`
	Status          string    `json:"status"`
	CooldownMinutes int       `json:"cooldown_minutes"`
	CooldownUntil   time.Time `json:"cooldown_until"`
}

// SleepStatusResponse answers GET /sensor/sleep-status/{subject_id}.
type SleepStatusResponse struct {
	SubjectID      string     `json:"subject_id"`
	IsSleeping     bool       `json:"is_sleeping"`
	SleepStartedAt *time.Time `json:"sleep_started_at,omitempty"`
	ElapsedMinutes *float64   `json:"elapsed_minutes,omitempty"`
}

// CooldownStatusResponse answers GET /sensor/cooldown-status/{subject_id}.
type CooldownStatusResponse struct {
	SubjectID        string `json:"subject_id"`
	InCooldown       bool   `json:"in_cooldown"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

// SleepingResponse answers GET /sensor/sleeping.
type SleepingResponse struct {
	SubjectIDs []string `json:"subject_ids"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SleepBlock is one aggregated block in analytics responses.
type SleepBlock struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	TotalSleepMinutes float64   `json:"total_sleep_minutes"`
	TotalSpanMinutes  float64   `json:"total_span_minutes"`
	InterruptionCount int       `json:"interruption_count"`
	EventCount        int       `json:"event_count"`
}

// SleepBlocksResponse answers GET /stats/sleep-blocks and /stats/recent-blocks.
type SleepBlocksResponse struct {
	SubjectID  string         `json:"subject_id"`
	From       *time.Time     `json:"from,omitempty"`
	To         *time.Time     `json:"to,omitempty"`
	GapMinutes float64        `json:"gap_minutes"`
	Blocks     []SleepBlock   `json:"blocks"`
	Summary    blocks.Summary `json:"summary"`
}

// DailySleepResponse answers GET /stats/daily-sleep.
type DailySleepResponse struct {
	SubjectID string            `json:"subject_id"`
	Timezone  string            `json:"timezone"`
	Days      []blocks.DayTotal `json:"days"`
}

// AwakeningsByPeriodResponse answers GET /stats/awakenings-by-period.
type AwakeningsByPeriodResponse struct {
	SubjectID string              `json:"subject_id"`
	Timezone  string              `json:"timezone"`
	Counts    blocks.PeriodCounts `json:"counts"`
	Total     int                 `json:"total"`
}

// HealthResponse answers the health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewSleepBlocks converts aggregator output for the wire.
func NewSleepBlocks(bs []blocks.Block) []SleepBlock {
	out := make([]SleepBlock, 0, len(bs))
	for _, b := range bs {
		out = append(out, SleepBlock{
			Start:             b.Start,
			End:               b.End,
			TotalSleepMinutes: b.TotalSleepMinutes,
			TotalSpanMinutes:  b.TotalSpanMinutes,
			InterruptionCount: b.InterruptionCount,
			EventCount:        b.EventCount(),
		})
	}
	return out
}

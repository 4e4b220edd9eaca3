// Package api is crib-server's HTTP surface and the event handling shared by
// the HTTP and MQTT transports.
package api

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/kafka"
	"github.com/sweeney/crib-sensor/internal/logic"
	"github.com/sweeney/crib-sensor/internal/metrics"
	"github.com/sweeney/crib-sensor/internal/repository"
	"github.com/sweeney/crib-sensor/internal/session"
	"github.com/sweeney/crib-sensor/internal/wire"
)

// SubjectChecker is satisfied by *registry.Registry.
type SubjectChecker interface {
	Check(ctx context.Context, id string) error
}

// AwakeningStore is the write side of *repository.AwakeningRepository.
type AwakeningStore interface {
	Insert(ctx context.Context, a repository.Awakening) (int64, error)
	LastSensorReadings(ctx context.Context, subjectID string) (*repository.SensorReadings, error)
}

// RecordPublisher is satisfied by *kafka.Publisher.
type RecordPublisher interface {
	Publish(ctx context.Context, rec kafka.AwakeningRecord) error
}

// Deps wires a Service. Records and Metrics may be nil.
type Deps struct {
	Tracker    *session.Tracker
	Subjects   SubjectChecker
	Awakenings AwakeningStore
	Records    RecordPublisher
	Metrics    *metrics.Metrics
	Cooldown   time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

// Service applies lifecycle events and interventions to the tracker and
// persists what they produce.
type Service struct {
	tracker    *session.Tracker
	subjects   SubjectChecker
	awakenings AwakeningStore
	records    RecordPublisher
	metrics    *metrics.Metrics
	cooldown   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a service.
func NewService(d Deps) *Service {
	if d.Cooldown <= 0 {
		d.Cooldown = session.DefaultCooldown
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		tracker:    d.Tracker,
		subjects:   d.Subjects,
		awakenings: d.Awakenings,
		records:    d.Records,
		metrics:    d.Metrics,
		cooldown:   d.Cooldown,
		now:        d.Now,
		logger:     d.Logger.With(zap.String("component", "service")),
	}
}

// Apply handles one automatic lifecycle event. The returned body is either a
// wire.Ignored or the response for kind. An unknown subject is returned as
// registry.ErrUnknownSubject and leaves the tracker untouched.
func (s *Service) Apply(ctx context.Context, kind logic.EventType, subjectID string) (any, error) {
	if err := s.subjects.Check(ctx, subjectID); err != nil {
		s.metrics.Event(string(kind), metrics.OutcomeUnknown)
		return nil, err
	}

	res, err := s.tracker.ApplyAutomatic(kind, subjectID)
	if err != nil {
		return nil, err
	}
	if res.Ignored {
		s.metrics.Event(string(kind), metrics.OutcomeIgnored)
		return wire.Ignored{
			Ignored:                  true,
			Reason:                   wire.ReasonInterventionCooldown,
			CooldownRemainingMinutes: res.CooldownRemaining,
		}, nil
	}
	s.metrics.Event(string(kind), metrics.OutcomeApplied)
	s.metrics.ActiveSessions(len(s.tracker.Sleeping()))

	switch kind {
	case logic.EventSleepStart:
		if res.Created {
			s.logger.Info("sleep session started",
				zap.String("subject_id", subjectID),
				zap.Time("start_time", res.Session.StartTime))
		}
		return wire.SleepStartResponse{
			SubjectID:      subjectID,
			SleepStartedAt: res.Session.StartTime,
			Created:        res.Created,
		}, nil

	case logic.EventSleepEnd:
		return s.sleepEnded(ctx, res), nil

	case logic.EventBabyAway:
		out := wire.BabyAwayResponse{SubjectID: subjectID, WasSleeping: res.HasSession}
		if res.HasSession {
			d := round2(res.At.Sub(res.Session.StartTime).Minutes())
			out.TrackingDurationMinutes = &d
			s.logger.Info("tracking stopped, subject away",
				zap.String("subject_id", subjectID),
				zap.Float64("tracking_duration_minutes", d))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unhandled event type %q", kind)
}

// sleepEnded stores an awakening record for a closed session. A storage
// failure is logged; the session is already closed and the response omits
// event_id.
func (s *Service) sleepEnded(ctx context.Context, res session.AutomaticResult) wire.SleepEndResponse {
	out := wire.SleepEndResponse{SubjectID: res.SubjectID, AwakenedAt: res.At}
	if !res.HasSession {
		s.logger.Info("sleep-end without an active session", zap.String("subject_id", res.SubjectID))
		return out
	}

	started := res.Session.StartTime
	minutes := res.At.Sub(started).Minutes()
	rounded := round2(minutes)
	out.WasSleeping = true
	out.SleepStartedAt = &started
	out.SleepDurationMinutes = &rounded

	readings, err := s.awakenings.LastSensorReadings(ctx, res.SubjectID)
	if err != nil {
		s.logger.Warn("sensor readings unavailable", zap.String("subject_id", res.SubjectID), zap.Error(err))
	}

	a := repository.Awakening{
		SubjectID:       res.SubjectID,
		SleepStartedAt:  started,
		AwakenedAt:      res.At,
		DurationMinutes: minutes,
		Readings:        readings,
	}
	id, err := s.awakenings.Insert(ctx, a)
	if err != nil {
		s.logger.Error("awakening event not stored",
			zap.String("subject_id", res.SubjectID),
			zap.Time("sleep_started_at", started),
			zap.Error(err))
		return out
	}
	out.EventID = &id
	s.metrics.Awakening(minutes)
	s.logger.Info("sleep session ended",
		zap.String("subject_id", res.SubjectID),
		zap.Int64("event_id", id),
		zap.Float64("sleep_duration_minutes", rounded))

	if s.records != nil {
		s.publish(ctx, id, a)
	}
	return out
}

func (s *Service) publish(ctx context.Context, id int64, a repository.Awakening) {
	meta, err := a.Metadata()
	if err == nil {
		err = s.records.Publish(ctx, kafka.AwakeningRecord{
			ID:         id,
			SubjectID:  a.SubjectID,
			Metadata:   meta,
			RecordedAt: a.AwakenedAt,
		})
	}
	if err != nil {
		s.logger.Warn("awakening record not published", zap.Int64("id", id), zap.Error(err))
	}
}

// Intervene applies a caregiver override and starts the cooldown.
func (s *Service) Intervene(ctx context.Context, subjectID, action string) (wire.InterventionResponse, error) {
	a, err := logic.ParseAction(action)
	if err != nil {
		return wire.InterventionResponse{}, err
	}
	if err := s.subjects.Check(ctx, subjectID); err != nil {
		return wire.InterventionResponse{}, err
	}

	res, err := s.tracker.Override(subjectID, a, s.cooldown)
	if err != nil {
		return wire.InterventionResponse{}, err
	}
	s.metrics.Intervention(string(a))
	s.metrics.ActiveSessions(len(s.tracker.Sleeping()))

	return wire.InterventionResponse{
		SubjectID:       subjectID,
		Status:          res.Status(),
		CooldownMinutes: int(s.cooldown / time.Minute),
		CooldownUntil:   res.CooldownUntil,
	}, nil
}

// SleepStatus reports the subject's active session.
func (s *Service) SleepStatus(ctx context.Context, subjectID string) (wire.SleepStatusResponse, error) {
	if err := s.subjects.Check(ctx, subjectID); err != nil {
		return wire.SleepStatusResponse{}, err
	}
	out := wire.SleepStatusResponse{SubjectID: subjectID}
	if ss, ok := s.tracker.Session(subjectID); ok {
		start := ss.StartTime
		elapsed := round2(s.now().Sub(start).Minutes())
		out.IsSleeping = true
		out.SleepStartedAt = &start
		out.ElapsedMinutes = &elapsed
	}
	return out, nil
}

// CooldownStatus reports the subject's remaining cooldown.
func (s *Service) CooldownStatus(ctx context.Context, subjectID string) (wire.CooldownStatusResponse, error) {
	if err := s.subjects.Check(ctx, subjectID); err != nil {
		return wire.CooldownStatusResponse{}, err
	}
	remaining, ok := s.tracker.CooldownRemaining(subjectID)
	return wire.CooldownStatusResponse{SubjectID: subjectID, InCooldown: ok, RemainingMinutes: remaining}, nil
}

// ClearCooldown lifts the subject's cooldown, reporting whether one existed.
func (s *Service) ClearCooldown(ctx context.Context, subjectID string) (bool, error) {
	if err := s.subjects.Check(ctx, subjectID); err != nil {
		return false, err
	}
	cleared := s.tracker.ClearCooldown(subjectID)
	if cleared {
		s.logger.Info("cooldown cleared", zap.String("subject_id", subjectID))
	}
	return cleared, nil
}

// Sleeping lists subjects with an active session.
func (s *Service) Sleeping() wire.SleepingResponse {
	return wire.SleepingResponse{SubjectIDs: s.tracker.Sleeping()}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

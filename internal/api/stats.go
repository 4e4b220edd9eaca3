package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/blocks"
	"github.com/sweeney/crib-sensor/internal/registry"
	"github.com/sweeney/crib-sensor/internal/wire"
)

const (
	defaultStatsDays   = 7
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// History is the read side of *repository.AwakeningRepository.
type History interface {
	EventsForPeriod(ctx context.Context, subjectID string, from, to time.Time) ([]blocks.Record, error)
	SessionsForRange(ctx context.Context, subjectID string, from, to time.Time) ([]blocks.Record, error)
	RecentAwakenings(ctx context.Context, subjectID string, limit int) ([]blocks.Record, error)
}

// Stats serves the analytics endpoints built on the block aggregator.
type Stats struct {
	history  History
	subjects SubjectChecker
	gap      time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewStats creates the analytics handlers. gap and loc are the defaults used
// when a request does not override them.
func NewStats(history History, subjects SubjectChecker, gap time.Duration, loc *time.Location, now func() time.Time, logger *zap.Logger) *Stats {
	if gap <= 0 {
		gap = blocks.DefaultGap
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Stats{
		history:  history,
		subjects: subjects,
		gap:      gap,
		loc:      loc,
		now:      now,
		logger:   logger.With(zap.String("component", "stats")),
	}
}

type statsQuery struct {
	subjectID string
	from, to  time.Time
	gap       time.Duration
	loc       *time.Location
	limit     int
}

var errBadQuery = errors.New("bad query")

// parseQuery reads subject_id, from, to, tz, gap and limit. from and to
// accept RFC3339 or a bare date in tz; a bare "to" date is inclusive.
func (s *Stats) parseQuery(r *http.Request) (statsQuery, error) {
	v := r.URL.Query()
	q := statsQuery{
		subjectID: v.Get("subject_id"),
		gap:       s.gap,
		loc:       s.loc,
		limit:     defaultRecentLimit,
	}
	if q.subjectID == "" {
		return q, fmt.Errorf("%w: subject_id is required", errBadQuery)
	}

	if tz := v.Get("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return q, fmt.Errorf("%w: unknown timezone %q", errBadQuery, tz)
		}
		q.loc = loc
	}

	if g := v.Get("gap"); g != "" {
		minutes, err := strconv.ParseFloat(g, 64)
		if err != nil || minutes < 0 {
			return q, fmt.Errorf("%w: gap must be a non-negative number of minutes", errBadQuery)
		}
		q.gap = time.Duration(minutes * float64(time.Minute))
	}

	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxRecentLimit {
			return q, fmt.Errorf("%w: limit must be between 1 and %d", errBadQuery, maxRecentLimit)
		}
		q.limit = n
	}

	q.to = s.now()
	if t := v.Get("to"); t != "" {
		to, dateOnly, err := parseBound(t, q.loc)
		if err != nil {
			return q, fmt.Errorf("%w: to: %v", errBadQuery, err)
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		q.to = to
	}
	q.from = q.to.AddDate(0, 0, -defaultStatsDays)
	if f := v.Get("from"); f != "" {
		from, _, err := parseBound(f, q.loc)
		if err != nil {
			return q, fmt.Errorf("%w: from: %v", errBadQuery, err)
		}
		q.from = from
	}
	if !q.from.Before(q.to) {
		return q, fmt.Errorf("%w: from must be before to", errBadQuery)
	}
	return q, nil
}

func parseBound(s string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return t, true, nil
}

// begin parses the query and checks the subject, writing the error response
// itself when it returns false.
func (s *Stats) begin(w http.ResponseWriter, r *http.Request) (statsQuery, bool) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return q, false
	}
	if err := s.subjects.Check(r.Context(), q.subjectID); err != nil {
		s.fail(w, err)
		return q, false
	}
	return q, true
}

func (s *Stats) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrUnknownSubject) {
		writeError(w, http.StatusNotFound, "unknown subject")
		return
	}
	s.logger.Error("stats query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Stats) handleSleepBlocks(w http.ResponseWriter, r *http.Request) {
	q, ok := s.begin(w, r)
	if !ok {
		return
	}
	recs, err := s.history.EventsForPeriod(r.Context(), q.subjectID, q.from, q.to)
	if err != nil {
		s.fail(w, err)
		return
	}
	bs := blocks.Group(recs, q.gap, s.logger)
	writeJSON(w, http.StatusOK, wire.SleepBlocksResponse{
		SubjectID:  q.subjectID,
		From:       &q.from,
		To:         &q.to,
		GapMinutes: q.gap.Minutes(),
		Blocks:     wire.NewSleepBlocks(bs),
		Summary:    blocks.Summarize(bs),
	})
}

func (s *Stats) handleRecentBlocks(w http.ResponseWriter, r *http.Request) {
	q, ok := s.begin(w, r)
	if !ok {
		return
	}
	recs, err := s.history.RecentAwakenings(r.Context(), q.subjectID, q.limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	bs := blocks.Group(recs, q.gap, s.logger)
	writeJSON(w, http.StatusOK, wire.SleepBlocksResponse{
		SubjectID:  q.subjectID,
		GapMinutes: q.gap.Minutes(),
		Blocks:     wire.NewSleepBlocks(bs),
		Summary:    blocks.Summarize(bs),
	})
}

func (s *Stats) handleDailySleep(w http.ResponseWriter, r *http.Request) {
	q, ok := s.begin(w, r)
	if !ok {
		return
	}
	recs, err := s.history.SessionsForRange(r.Context(), q.subjectID, q.from, q.to)
	if err != nil {
		s.fail(w, err)
		return
	}
	bs := blocks.Group(recs, q.gap, s.logger)
	writeJSON(w, http.StatusOK, wire.DailySleepResponse{
		SubjectID: q.subjectID,
		Timezone:  q.loc.String(),
		Days:      blocks.DailySleep(recs, bs, q.loc),
	})
}

func (s *Stats) handleAwakeningsByPeriod(w http.ResponseWriter, r *http.Request) {
	q, ok := s.begin(w, r)
	if !ok {
		return
	}
	recs, err := s.history.EventsForPeriod(r.Context(), q.subjectID, q.from, q.to)
	if err != nil {
		s.fail(w, err)
		return
	}
	bs := blocks.Group(recs, q.gap, s.logger)
	c := blocks.AwakeningsByPeriod(bs, q.loc)
	writeJSON(w, http.StatusOK, wire.AwakeningsByPeriodResponse{
		SubjectID: q.subjectID,
		Timezone:  q.loc.String(),
		Counts:    c,
		Total:     c.Morning + c.Noon + c.Night,
	})
}

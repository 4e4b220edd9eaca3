package api

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/crib-sensor/internal/blocks"
	"github.com/sweeney/crib-sensor/internal/wire"
)

func event(id int64, start, end string, minutes float64) blocks.Record {
	meta := `{"sleep_started_at":"` + start + `","awakened_at":"` + end +
		`","sleep_duration_minutes":` + strconv.FormatFloat(minutes, 'f', -1, 64) + `}`
	return blocks.EventRecord(id, []byte(meta))
}

func threeEvents() []blocks.Record {
	return []blocks.Record{
		event(1, "2026-03-01T01:00:00Z", "2026-03-01T02:00:00Z", 60),
		event(2, "2026-03-01T02:10:00Z", "2026-03-01T04:00:00Z", 110),
		event(3, "2026-03-01T05:00:00Z", "2026-03-01T06:00:00Z", 60),
	}
}

func TestSleepBlocksGroupsWithDefaultGap(t *testing.T) {
	env := newTestEnv(t)
	env.history.events = threeEvents()

	rec := env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[wire.SleepBlocksResponse](t, rec)

	require.Len(t, res.Blocks, 2)
	assert.Equal(t, 30.0, res.GapMinutes)
	assert.Equal(t, 170.0, res.Blocks[0].TotalSleepMinutes)
	assert.Equal(t, 1, res.Blocks[0].InterruptionCount)
	assert.Equal(t, 2, res.Blocks[0].EventCount)
	assert.Equal(t, 180.0, res.Blocks[0].TotalSpanMinutes)
	assert.Equal(t, 2, res.Summary.BlockCount)
	assert.Equal(t, 170.0, res.Summary.LongestBlockMinutes)

	// The default window is the seven days up to now.
	now := env.clock.Now()
	assert.True(t, env.history.to.Equal(now))
	assert.True(t, env.history.from.Equal(now.AddDate(0, 0, -7)))
}

func TestSleepBlocksGapOverride(t *testing.T) {
	env := newTestEnv(t)
	env.history.events = threeEvents()

	res := decode[wire.SleepBlocksResponse](t, env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1&gap=10", nil))
	assert.Len(t, res.Blocks, 2, "a 10 minute gap still joins at the boundary")

	res = decode[wire.SleepBlocksResponse](t, env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1&gap=5", nil))
	assert.Len(t, res.Blocks, 3)

	res = decode[wire.SleepBlocksResponse](t, env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1&gap=60", nil))
	assert.Len(t, res.Blocks, 1)
}

func TestStatsDateBounds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1&from=2026-02-20&to=2026-02-21", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.history.from.Equal(time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)))
	assert.True(t, env.history.to.Equal(time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)), "a bare to date is inclusive")

	rec = env.do(t, http.MethodGet, "/stats/sleep-blocks?subject_id=b1&from=2026-02-20T06:00:00Z&to=2026-02-20T18:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.history.to.Equal(time.Date(2026, 2, 20, 18, 0, 0, 0, time.UTC)))
}

func TestStatsBadQueries(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"missing subject", "", http.StatusBadRequest},
		{"unknown subject", "subject_id=ghost", http.StatusNotFound},
		{"bad tz", "subject_id=b1&tz=Mars/Olympus", http.StatusBadRequest},
		{"bad gap", "subject_id=b1&gap=-3", http.StatusBadRequest},
		{"bad from", "subject_id=b1&from=yesterday", http.StatusBadRequest},
		{"from after to", "subject_id=b1&from=2026-03-02&to=2026-03-01", http.StatusBadRequest},
		{"bad limit", "subject_id=b1&limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/stats/sleep-blocks?"+tt.query, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestStatsHistoryError(t *testing.T) {
	env := newTestEnv(t)
	env.history.err = errors.New("db down")

	rec := env.do(t, http.MethodGet, "/stats/daily-sleep?subject_id=b1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[wire.ErrorResponse](t, rec).Error)
}

func TestRecentBlocks(t *testing.T) {
	env := newTestEnv(t)
	dur := func(f float64) *float64 { return &f }
	end := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	env.history.recent = []blocks.Record{
		blocks.AwakeningRecord(2, end, dur(40)),
		blocks.AwakeningRecord(1, end.Add(-50*time.Minute), dur(120)),
	}

	res := decode[wire.SleepBlocksResponse](t, env.do(t, http.MethodGet, "/stats/recent-blocks?subject_id=b1&limit=5", nil))
	assert.Equal(t, 5, env.history.limit)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, 160.0, res.Blocks[0].TotalSleepMinutes)
	assert.Nil(t, res.From)
}

func TestDailySleep(t *testing.T) {
	env := newTestEnv(t)
	dur := func(f float64) *float64 { return &f }
	env.history.sessions = []blocks.Record{
		blocks.SessionRecord(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC), dur(180)),
		blocks.SessionRecord(time.Date(2026, 3, 2, 1, 15, 0, 0, time.UTC), time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC), dur(225)),
		blocks.SessionRecord(time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), dur(90)),
	}

	res := decode[wire.DailySleepResponse](t, env.do(t, http.MethodGet, "/stats/daily-sleep?subject_id=b1", nil))
	assert.Equal(t, "UTC", res.Timezone)
	require.Len(t, res.Days, 1)
	assert.Equal(t, "2026-03-02", res.Days[0].Date)
	assert.Equal(t, 495.0, res.Days[0].TotalMinutes)
	assert.Equal(t, 8.25, res.Days[0].TotalHours)
	assert.Equal(t, 2, res.Days[0].Blocks)
	assert.Equal(t, 1, res.Days[0].Awakenings)
}

func TestAwakeningsByPeriodHonoursTimezone(t *testing.T) {
	env := newTestEnv(t)
	env.history.events = []blocks.Record{
		event(1, "2026-03-01T01:00:00Z", "2026-03-01T04:00:00Z", 180),
		event(2, "2026-03-01T05:00:00Z", "2026-03-01T06:00:00Z", 60),
	}

	res := decode[wire.AwakeningsByPeriodResponse](t, env.do(t, http.MethodGet, "/stats/awakenings-by-period?subject_id=b1", nil))
	assert.Equal(t, blocks.PeriodCounts{Morning: 1, Night: 1}, res.Counts)
	assert.Equal(t, 2, res.Total)

	// 04:00Z is 06:00 in Jerusalem.
	res = decode[wire.AwakeningsByPeriodResponse](t, env.do(t, http.MethodGet, "/stats/awakenings-by-period?subject_id=b1&tz=Asia/Jerusalem", nil))
	assert.Equal(t, "Asia/Jerusalem", res.Timezone)
	assert.Equal(t, blocks.PeriodCounts{Morning: 2}, res.Counts)
}

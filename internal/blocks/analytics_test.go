package blocks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodOf(t *testing.T) {
	tests := []struct {
		h, m int
		want Period
	}{
		{5, 59, PeriodNight},
		{6, 0, PeriodMorning},
		{11, 59, PeriodMorning},
		{12, 0, PeriodNoon},
		{17, 59, PeriodNoon},
		{18, 0, PeriodNight},
		{0, 0, PeriodNight},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PeriodOf(at(tt.h, tt.m), time.UTC), "%02d:%02d", tt.h, tt.m)
	}
}

func TestPeriodOfUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 05:00 UTC is 07:00 local
	assert.Equal(t, PeriodMorning, PeriodOf(at(5, 0), loc))
	assert.Equal(t, PeriodNight, PeriodOf(at(5, 0), time.UTC))
}

func TestAwakeningsByPeriod(t *testing.T) {
	blocks := Group([]Record{
		session(1, 0, 3, 0),   // ends 03:00 night
		session(8, 0, 9, 0),   // ends 09:00 morning
		session(9, 20, 10, 0), // merges into the morning block
		session(13, 0, 14, 0), // noon
		session(19, 0, 20, 0), // night
	}, DefaultGap, nil)
	require.Len(t, blocks, 4)

	c := AwakeningsByPeriod(blocks, time.UTC)
	assert.Equal(t, PeriodCounts{Morning: 1, Noon: 1, Night: 2}, c)
}

func TestDailySleepOvernight(t *testing.T) {
	day2 := func(h, m int) time.Time { return at(h, m).Add(24 * time.Hour) }
	records := []Record{
		SessionRecord(at(22, 0), day2(1, 0), mins(180)),
		SessionRecord(day2(1, 10), day2(5, 0), mins(230)),
		SessionRecord(day2(13, 0), day2(14, 30), mins(90)),
		SessionRecord(at(13, 0), at(14, 0), mins(60)),
	}
	blocks := Group(records, DefaultGap, nil)
	days := DailySleep(records, blocks, time.UTC)

	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-01", days[0].Date)
	assert.Equal(t, 60.0, days[0].TotalMinutes)
	assert.Equal(t, 1, days[0].Blocks)
	assert.Equal(t, 0, days[0].Awakenings)

	assert.Equal(t, "2026-03-02", days[1].Date)
	assert.Equal(t, 500.0, days[1].TotalMinutes)
	assert.Equal(t, 8.33, days[1].TotalHours)
	assert.Equal(t, 2, days[1].Blocks)
	assert.Equal(t, 1, days[1].Awakenings)
}

func TestDailySleepTimezoneShiftsDate(t *testing.T) {
	records := []Record{SessionRecord(at(20, 0), at(23, 0), mins(180))}
	blocks := Group(records, DefaultGap, nil)

	loc := time.FixedZone("UTC+3", 3*60*60)
	days := DailySleep(records, blocks, loc)
	require.Len(t, days, 1)
	assert.Equal(t, "2026-03-02", days[0].Date)
}

func TestSummarize(t *testing.T) {
	blocks := Group([]Record{
		session(1, 0, 2, 0),
		session(2, 10, 3, 0),
		session(13, 0, 13, 30),
	}, DefaultGap, nil)

	s := Summarize(blocks)
	assert.Equal(t, 2, s.BlockCount)
	assert.Equal(t, 140.0, s.TotalSleepMinutes)
	assert.Equal(t, 70.0, s.AverageBlockMinutes)
	assert.Equal(t, 110.0, s.LongestBlockMinutes)
	assert.Equal(t, 1, s.TotalInterruptions)

	assert.Equal(t, Summary{}, Summarize(nil))
}

package blocks

import (
	"math"
	"sort"
	"time"
)

// Period is a part of the local day.
type Period string

const (
	PeriodMorning Period = "morning" // [06:00, 12:00)
	PeriodNoon    Period = "noon"    // [12:00, 18:00)
	PeriodNight   Period = "night"   // otherwise
)

// PeriodOf classifies t in loc.
func PeriodOf(t time.Time, loc *time.Location) Period {
	h := t.In(loc).Hour()
	switch {
	case h >= 6 && h < 12:
		return PeriodMorning
	case h >= 12 && h < 18:
		return PeriodNoon
	default:
		return PeriodNight
	}
}

// PeriodCounts counts awakenings per part of day.
type PeriodCounts struct {
	Morning int `json:"morning"`
	Noon    int `json:"noon"`
	Night   int `json:"night"`
}

// AwakeningsByPeriod counts one awakening per block, classified by the
// block's end in loc.
func AwakeningsByPeriod(blocks []Block, loc *time.Location) PeriodCounts {
	var c PeriodCounts
	for _, b := range blocks {
		switch PeriodOf(b.End, loc) {
		case PeriodMorning:
			c.Morning++
		case PeriodNoon:
			c.Noon++
		default:
			c.Night++
		}
	}
	return c
}

// DayTotal is one day of the daily sleep series.
type DayTotal struct {
	Date         string  `json:"date"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	Blocks       int     `json:"sessions_count"`
	Awakenings   int     `json:"awakenings_count"`
}

// DailySleep sums raw record durations per local date of awakening, then
// attributes each block and its interruptions to the local date of its end.
// Days are returned in ascending order.
func DailySleep(records []Record, blocks []Block, loc *time.Location) []DayTotal {
	days := make(map[string]*DayTotal)
	day := func(t time.Time) *DayTotal {
		key := t.In(loc).Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &DayTotal{Date: key}
			days[key] = d
		}
		return d
	}

	for _, r := range records {
		n, err := Normalize(r)
		if err != nil {
			continue
		}
		day(n.End).TotalMinutes += n.DurationMinutes
	}
	for _, b := range blocks {
		d := day(b.End)
		d.Blocks++
		d.Awakenings += b.InterruptionCount
	}

	out := make([]DayTotal, 0, len(days))
	for _, d := range days {
		d.TotalHours = round2(d.TotalMinutes / 60)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Summary aggregates a list of blocks.
type Summary struct {
	BlockCount          int     `json:"block_count"`
	TotalSleepMinutes   float64 `json:"total_sleep_minutes"`
	AverageBlockMinutes float64 `json:"average_block_minutes"`
	LongestBlockMinutes float64 `json:"longest_block_minutes"`
	TotalInterruptions  int     `json:"total_interruptions"`
}

// Summarize totals blocks.
func Summarize(blocks []Block) Summary {
	var s Summary
	for _, b := range blocks {
		s.BlockCount++
		s.TotalSleepMinutes += b.TotalSleepMinutes
		s.TotalInterruptions += b.InterruptionCount
		if b.TotalSleepMinutes > s.LongestBlockMinutes {
			s.LongestBlockMinutes = b.TotalSleepMinutes
		}
	}
	if s.BlockCount > 0 {
		s.AverageBlockMinutes = round2(s.TotalSleepMinutes / float64(s.BlockCount))
	}
	return s
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

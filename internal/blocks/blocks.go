// Package blocks merges awakening records separated by short gaps into sleep
// blocks and derives the analytics built on them.
//
// Everything here is a pure function of its inputs and safe for concurrent use.
package blocks

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultGap is the largest wake gap that still joins two records into one block.
const DefaultGap = 30 * time.Minute

// Block is a run of records whose gaps never exceed the threshold.
type Block struct {
	Start             time.Time
	End               time.Time
	TotalSleepMinutes float64
	TotalSpanMinutes  float64
	InterruptionCount int
	Events            []Normalized
}

// EventCount is the number of records in the block.
func (b Block) EventCount() int {
	return len(b.Events)
}

// Group normalizes records, drops the ones that fail (logging each), sorts
// the rest stably by start and chains them into blocks. A record joins the
// current block when its start minus the previous record's end is at most
// gap; overlapping records give a negative gap and always join.
func Group(records []Record, gap time.Duration, logger *zap.Logger) []Block {
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := make([]Normalized, 0, len(records))
	for _, r := range records {
		n, err := Normalize(r)
		if err != nil {
			logger.Warn("dropping unnormalizable record",
				zap.String("kind", r.Kind.String()),
				zap.Int64("id", r.ID),
				zap.Error(err))
			continue
		}
		normalized = append(normalized, n)
	}
	if len(normalized) == 0 {
		return nil
	}

	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Start.Before(normalized[j].Start)
	})

	var out []Block
	current := []Normalized{normalized[0]}
	for _, n := range normalized[1:] {
		prev := current[len(current)-1]
		if n.Start.Sub(prev.End) <= gap {
			current = append(current, n)
			continue
		}
		out = append(out, build(current))
		current = []Normalized{n}
	}
	return append(out, build(current))
}

func build(events []Normalized) Block {
	b := Block{
		Start:             events[0].Start,
		End:               events[len(events)-1].End,
		InterruptionCount: len(events) - 1,
		Events:            events,
	}
	for _, e := range events {
		b.TotalSleepMinutes += e.DurationMinutes
	}
	b.TotalSpanMinutes = b.End.Sub(b.Start).Minutes()
	return b
}

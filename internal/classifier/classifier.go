// Package classifier reads per-frame verdict lines from the vision
// classifier and turns them into timestamped readings.
package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// Source delivers classifier readings. The channel is closed when the
// underlying stream ends.
type Source interface {
	Readings() <-chan logic.Reading
}

// ErrUnknownVerdict is returned by ParseLine for labels outside the vocabulary.
var ErrUnknownVerdict = errors.New("unknown verdict")

type line struct {
	Verdict *string `json:"verdict"`
	Conf    *int    `json:"conf"`
}

// ParseLine decodes one {"verdict": ..., "conf": ...} line. A leading
// "<digits> " label-file index on the verdict is stripped.
func ParseLine(b []byte) (logic.Label, int, error) {
	var l line
	if err := json.Unmarshal(b, &l); err != nil {
		return 0, 0, fmt.Errorf("decode line: %w", err)
	}
	if l.Verdict == nil || l.Conf == nil {
		return 0, 0, errors.New("missing verdict or conf")
	}
	label, ok := logic.ParseLabel(stripIndex(*l.Verdict))
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownVerdict, *l.Verdict)
	}
	return label, *l.Conf, nil
}

// stripIndex turns "0 Asleep" into "Asleep".
func stripIndex(s string) string {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && s[i] == ' ' {
		return s[i+1:]
	}
	return s
}

// LineReader scans newline-delimited JSON verdicts from r. Each reading is
// stamped with now() when its line is read, not when it is consumed.
type LineReader struct {
	r      io.Reader
	now    func() time.Time
	logger *zap.Logger
	out    chan logic.Reading
}

// NewLineReader creates a reader with a channel buffer of size buf.
func NewLineReader(r io.Reader, now func() time.Time, logger *zap.Logger, buf int) *LineReader {
	return &LineReader{
		r:      r,
		now:    now,
		logger: logger.With(zap.String("component", "classifier")),
		out:    make(chan logic.Reading, buf),
	}
}

// Readings returns the reading channel.
func (l *LineReader) Readings() <-chan logic.Reading {
	return l.out
}

// Run scans until EOF, a read error or ctx is cancelled, then closes the
// readings channel. Malformed lines are dropped.
func (l *LineReader) Run(ctx context.Context) error {
	defer close(l.out)

	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		label, conf, err := ParseLine(raw)
		if err != nil {
			l.logger.Debug("dropping classifier line", zap.ByteString("line", raw), zap.Error(err))
			continue
		}
		r := logic.Reading{Label: label, Confidence: conf, ObservedAt: l.now()}
		select {
		case l.out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan classifier stream: %w", err)
	}
	return nil
}

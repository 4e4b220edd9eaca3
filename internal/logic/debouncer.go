package logic

import "time"

// Defaults match the camera's ~2 Hz verdict rate: about a dozen readings per window.
const (
	DefaultWindow    = 25 * time.Second
	DefaultThreshold = 600

	// dominanceFactor is how many times more often the winning label must
	// appear than every other label in the window.
	dominanceFactor = 3
)

// Debouncer turns noisy per-tick verdicts into an occasional trustworthy label.
// A label is returned only when it dominates the window by count and its
// confidence sum reaches the threshold.
// Not safe for concurrent use.
type Debouncer struct {
	window    time.Duration
	threshold int
	buf       []Reading
}

// NewDebouncer creates a debouncer over a sliding time window.
func NewDebouncer(window time.Duration, threshold int) *Debouncer {
	return &Debouncer{
		window:    window,
		threshold: threshold,
	}
}

// Feed adds a reading observed at now and returns the debounced label if
// both the dominance and confidence tests pass.
func (d *Debouncer) Feed(label Label, confidence int, now time.Time) (Label, bool) {
	if label < 0 || label >= numLabels {
		return 0, false
	}
	if confidence < 0 {
		confidence = 0
	}
	d.buf = append(d.buf, Reading{Label: label, Confidence: confidence, ObservedAt: now})
	d.prune(now)

	var counts, scores [numLabels]int
	for _, r := range d.buf {
		counts[r.Label]++
		scores[r.Label] += r.Confidence
	}

	// Strict > keeps the earliest label on ties.
	winner := Label(0)
	for l := Label(1); l < numLabels; l++ {
		if counts[l] > counts[winner] {
			winner = l
		}
	}
	if counts[winner] == 0 {
		return 0, false
	}

	for l := Label(0); l < numLabels; l++ {
		if l == winner {
			continue
		}
		if counts[winner] < dominanceFactor*counts[l] {
			return 0, false
		}
	}

	if scores[winner] < d.threshold {
		return 0, false
	}
	return winner, true
}

// prune drops readings older than the window, relative to now.
func (d *Debouncer) prune(now time.Time) {
	kept := d.buf[:0]
	for _, r := range d.buf {
		if now.Sub(r.ObservedAt) <= d.window {
			kept = append(kept, r)
		}
	}
	// Clear the tail so dropped readings don't linger in the backing array.
	for i := len(kept); i < len(d.buf); i++ {
		d.buf[i] = Reading{}
	}
	d.buf = kept
}

// Len returns the number of readings currently inside the window.
func (d *Debouncer) Len() int {
	return len(d.buf)
}

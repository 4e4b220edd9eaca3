package classifier

import "github.com/sweeney/crib-sensor/internal/logic"

// FakeSource is a Source fed directly by tests.
type FakeSource struct {
	ch chan logic.Reading
}

// NewFakeSource creates a FakeSource with the given buffer.
func NewFakeSource(buf int) *FakeSource {
	return &FakeSource{ch: make(chan logic.Reading, buf)}
}

// Push queues a reading. Blocks if the buffer is full.
func (f *FakeSource) Push(r logic.Reading) {
	f.ch <- r
}

// Close ends the stream.
func (f *FakeSource) Close() {
	close(f.ch)
}

// Readings returns the reading channel.
func (f *FakeSource) Readings() <-chan logic.Reading {
	return f.ch
}

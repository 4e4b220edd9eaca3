package api

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/crib-sensor/internal/blocks"
	"github.com/sweeney/crib-sensor/internal/kafka"
	"github.com/sweeney/crib-sensor/internal/registry"
	"github.com/sweeney/crib-sensor/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSubjects map[string]bool

func (f fakeSubjects) Check(_ context.Context, id string) error {
	if !f[id] {
		return registry.ErrUnknownSubject
	}
	return nil
}

type fakeAwakenings struct {
	mu       sync.Mutex
	stored   []repository.Awakening
	readings *repository.SensorReadings
	err      error
}

func (f *fakeAwakenings) Insert(_ context.Context, a repository.Awakening) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.stored = append(f.stored, a)
	return int64(len(f.stored)), nil
}

func (f *fakeAwakenings) LastSensorReadings(context.Context, string) (*repository.SensorReadings, error) {
	return f.readings, nil
}

func (f *fakeAwakenings) Stored() []repository.Awakening {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.Awakening(nil), f.stored...)
}

type fakeRecords struct {
	mu        sync.Mutex
	published []kafka.AwakeningRecord
}

func (f *fakeRecords) Publish(_ context.Context, rec kafka.AwakeningRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, rec)
	return nil
}

type fakeHistory struct {
	events   []blocks.Record
	sessions []blocks.Record
	recent   []blocks.Record
	err      error

	from, to time.Time
	limit    int
}

func (f *fakeHistory) EventsForPeriod(_ context.Context, _ string, from, to time.Time) ([]blocks.Record, error) {
	f.from, f.to = from, to
	return f.events, f.err
}

func (f *fakeHistory) SessionsForRange(_ context.Context, _ string, from, to time.Time) ([]blocks.Record, error) {
	f.from, f.to = from, to
	return f.sessions, f.err
}

func (f *fakeHistory) RecentAwakenings(_ context.Context, _ string, limit int) ([]blocks.Record, error) {
	f.limit = limit
	return f.recent, f.err
}

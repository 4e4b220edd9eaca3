package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLookup struct {
	mu    sync.Mutex
	known map[string]bool
	calls int
	err   error
}

func (f *fakeLookup) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.known[id], f.err
}

func (f *fakeLookup) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCheckCachesKnownSubjects(t *testing.T) {
	l := &fakeLookup{known: map[string]bool{"b1": true}}
	r := New(l, 100, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Check(ctx, "b1"))
	require.NoError(t, r.Check(ctx, "b1"))
	assert.Equal(t, 1, l.Calls())

	r.Forget("b1")
	require.NoError(t, r.Check(ctx, "b1"))
	assert.Equal(t, 2, l.Calls())
}

func TestCheckUnknownIsNotCached(t *testing.T) {
	l := &fakeLookup{known: map[string]bool{}}
	r := New(l, 100, time.Hour, zap.NewNop())
	ctx := context.Background()

	assert.ErrorIs(t, r.Check(ctx, "ghost"), ErrUnknownSubject)

	l.mu.Lock()
	l.known["ghost"] = true
	l.mu.Unlock()
	assert.NoError(t, r.Check(ctx, "ghost"))
}

func TestCheckEmptyID(t *testing.T) {
	l := &fakeLookup{}
	r := New(l, 100, time.Hour, zap.NewNop())
	assert.ErrorIs(t, r.Check(context.Background(), ""), ErrUnknownSubject)
	assert.Equal(t, 0, l.Calls())
}

func TestCheckLookupError(t *testing.T) {
	boom := errors.New("db down")
	r := New(&fakeLookup{err: boom}, 100, time.Hour, zap.NewNop())

	err := r.Check(context.Background(), "b1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnknownSubject)
}

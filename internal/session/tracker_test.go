package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/crib-sensor/internal/logic"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)}
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

func newTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	tr := NewTracker(clk.Now, zap.NewNop())
	t.Cleanup(tr.Close)
	return tr, clk
}

func TestStartSleepIdempotent(t *testing.T) {
	tr, clk := newTracker(t)

	s1, created := tr.StartSleep("baby-1")
	require.True(t, created)
	assert.Equal(t, clk.Now(), s1.StartTime)

	clk.Advance(5 * time.Minute)
	s2, created := tr.StartSleep("baby-1")
	assert.False(t, created)
	assert.Equal(t, s1, s2, "existing session must be preserved")
}

func TestEndSleep(t *testing.T) {
	tr, clk := newTracker(t)

	_, ok := tr.EndSleep("baby-1")
	assert.False(t, ok, "ending without a session is not tracked")

	start, _ := tr.StartSleep("baby-1")
	clk.Advance(90 * time.Minute)
	ended, ok := tr.EndSleep("baby-1")
	require.True(t, ok)
	assert.Equal(t, start, ended)

	_, ok = tr.Session("baby-1")
	assert.False(t, ok)
}

func TestCooldownLifecycle(t *testing.T) {
	tr, clk := newTracker(t)

	assert.False(t, tr.InCooldown("baby-1"))
	exp := tr.StartCooldown("baby-1", 20*time.Minute)
	assert.Equal(t, clk.Now().Add(20*time.Minute), exp)
	assert.True(t, tr.InCooldown("baby-1"))

	clk.Advance(20 * time.Minute)
	assert.False(t, tr.InCooldown("baby-1"), "expires at exactly ExpiresAt")
	assert.Empty(t, tr.Snapshot().Cooldowns)
}

func TestCooldownRemainingRoundsUp(t *testing.T) {
	tr, clk := newTracker(t)
	tr.StartCooldown("baby-1", 20*time.Minute)

	m, ok := tr.CooldownRemaining("baby-1")
	require.True(t, ok)
	assert.Equal(t, 21, m)

	clk.Advance(12*time.Minute + 30*time.Second)
	m, ok = tr.CooldownRemaining("baby-1")
	require.True(t, ok)
	assert.Equal(t, 8, m, "7.5 minutes left reports 8")

	clk.Advance(7*time.Minute + 29*time.Second)
	m, ok = tr.CooldownRemaining("baby-1")
	require.True(t, ok)
	assert.Equal(t, 1, m, "one second left reports 1")
}

func TestStartCooldownResets(t *testing.T) {
	tr, clk := newTracker(t)
	tr.StartCooldown("baby-1", 20*time.Minute)
	clk.Advance(15 * time.Minute)
	exp := tr.StartCooldown("baby-1", 20*time.Minute)
	assert.Equal(t, clk.Now().Add(20*time.Minute), exp)

	clk.Advance(10 * time.Minute)
	assert.True(t, tr.InCooldown("baby-1"))
}

func TestClearCooldown(t *testing.T) {
	tr, _ := newTracker(t)
	assert.False(t, tr.ClearCooldown("baby-1"))
	tr.StartCooldown("baby-1", time.Hour)
	assert.True(t, tr.ClearCooldown("baby-1"))
	assert.False(t, tr.InCooldown("baby-1"))
}

func TestApplyAutomaticIgnoredDuringCooldown(t *testing.T) {
	tr, clk := newTracker(t)

	res, err := tr.Override("baby-1", logic.ActionMarkAwake, 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "awake", res.Status())

	clk.Advance(5 * time.Minute)
	auto, err := tr.ApplyAutomatic(logic.EventSleepStart, "baby-1")
	require.NoError(t, err)
	assert.True(t, auto.Ignored)
	assert.Equal(t, 16, auto.CooldownRemaining)

	_, ok := tr.Session("baby-1")
	assert.False(t, ok, "ignored event must not create a session")

	clk.Advance(15 * time.Minute)
	auto, err = tr.ApplyAutomatic(logic.EventSleepStart, "baby-1")
	require.NoError(t, err)
	assert.False(t, auto.Ignored)
	assert.True(t, auto.Created)
	assert.True(t, auto.HasSession)
}

func TestApplyAutomaticEndAndAway(t *testing.T) {
	tr, clk := newTracker(t)

	res, err := tr.ApplyAutomatic(logic.EventSleepEnd, "baby-1")
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.False(t, res.HasSession, "sleep-end without a session reports not sleeping")

	start := clk.Now()
	tr.StartSleep("baby-1")
	clk.Advance(45 * time.Minute)
	res, err = tr.ApplyAutomatic(logic.EventBabyAway, "baby-1")
	require.NoError(t, err)
	require.True(t, res.HasSession)
	assert.Equal(t, start, res.Session.StartTime)
	assert.Equal(t, clk.Now(), res.At)
	assert.Empty(t, tr.Sleeping())
}

func TestApplyAutomaticAwayIgnoredDuringCooldown(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.Override("baby-1", logic.ActionMarkAsleep, 20*time.Minute)
	require.NoError(t, err)

	res, err := tr.ApplyAutomatic(logic.EventBabyAway, "baby-1")
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	_, ok := tr.Session("baby-1")
	assert.True(t, ok)
}

func TestApplyAutomaticUnknownKind(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.ApplyAutomatic("nap", "baby-1")
	assert.Error(t, err)
}

func TestOverride(t *testing.T) {
	tr, clk := newTracker(t)

	res, err := tr.Override("baby-1", logic.ActionMarkAsleep, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, res.Started)
	assert.Equal(t, "sleeping", res.Status())
	assert.Equal(t, clk.Now().Add(20*time.Minute), res.CooldownUntil)

	res, err = tr.Override("baby-1", logic.ActionMarkAsleep, 20*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, res.Started, "already sleeping")

	clk.Advance(time.Hour)
	res, err = tr.Override("baby-1", logic.ActionMarkAwake, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, res.Ended)
	assert.Equal(t, clk.Now().Add(-time.Hour), res.Ended.StartTime)

	_, err = tr.Override("baby-1", "feed", time.Minute)
	assert.ErrorIs(t, err, logic.ErrInvalidAction)
}

func TestSleepingSorted(t *testing.T) {
	tr, _ := newTracker(t)
	for _, id := range []string{"c", "a", "b"} {
		tr.StartSleep(id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, tr.Sleeping())
}

func TestSnapshotRestore(t *testing.T) {
	tr, clk := newTracker(t)
	tr.StartSleep("b")
	tr.StartSleep("a")
	tr.StartCooldown("a", 10*time.Minute)
	tr.StartCooldown("z", time.Minute)

	snap := tr.Snapshot()
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, "a", snap.Sessions[0].SubjectID)
	require.Len(t, snap.Cooldowns, 2)

	clk.Advance(2 * time.Minute)
	other := NewTracker(clk.Now, zap.NewNop())
	defer other.Close()
	other.Restore(snap)

	assert.Equal(t, []string{"a", "b"}, other.Sleeping())
	assert.True(t, other.InCooldown("a"))
	assert.False(t, other.InCooldown("z"), "expired cooldowns are not restored")
}

func TestChangesSignalled(t *testing.T) {
	tr, _ := newTracker(t)
	tr.StartSleep("baby-1")
	select {
	case <-tr.Changes():
	default:
		t.Fatal("expected change signal")
	}

	tr.StartSleep("baby-1")
	select {
	case <-tr.Changes():
		t.Fatal("duplicate start should not signal")
	default:
	}
}

func TestCloseClosesChanges(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(clk.Now, zap.NewNop())
	tr.Close()
	tr.Close()

	_, open := <-tr.Changes()
	assert.False(t, open)

	// still usable after Close
	_, created := tr.StartSleep("baby-1")
	assert.True(t, created)
}

func TestConcurrentAccess(t *testing.T) {
	tr, _ := newTracker(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("baby-%d", i%5)
			tr.StartSleep(id)
			tr.ApplyAutomatic(logic.EventSleepEnd, id)
			tr.Override(id, logic.ActionMarkAsleep, time.Minute)
			tr.CooldownRemaining(id)
			tr.Sleeping()
			tr.Snapshot()
		}(i)
	}
	wg.Wait()

	// the last call on every subject was a mark_asleep
	assert.Len(t, tr.Sleeping(), 5)
}

// An intervention racing automatic events never lets an automatic event
// mutate state after the cooldown was set.
func TestOverrideAtomicWithAutomatic(t *testing.T) {
	tr, _ := newTracker(t)

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		tr.Override("baby-1", logic.ActionMarkAsleep, time.Hour)
	}()
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 100; i++ {
			tr.ApplyAutomatic(logic.EventSleepEnd, "baby-1")
		}
	}()
	close(start)
	wg.Wait()

	_, ok := tr.Session("baby-1")
	assert.True(t, ok, "mark_asleep must survive concurrent automatic sleep-end")
}

func TestLogsWrittenOutsideLock(t *testing.T) {
	var tr *Tracker
	heldWhileLogging := 0
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core, zap.Hooks(func(zapcore.Entry) error {
		if tr.mu.TryLock() {
			tr.mu.Unlock()
		} else {
			heldWhileLogging++
		}
		return nil
	}))

	clk := newFakeClock()
	tr = NewTracker(clk.Now, logger)
	defer tr.Close()

	tr.StartSleep("a")
	tr.StartSleep("a")
	_, err := tr.Override("a", logic.ActionMarkAsleep, time.Minute)
	require.NoError(t, err)
	_, err = tr.ApplyAutomatic(logic.EventSleepEnd, "a")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = tr.ApplyAutomatic(logic.EventSleepStart, "a")
	require.NoError(t, err)
	tr.Restore(tr.Snapshot())

	assert.Equal(t, 3, logs.FilterMessage("sleep session already active").Len())
	assert.Equal(t, 1, logs.FilterMessage("intervention applied").Len())
	assert.Equal(t, 1, logs.FilterMessage("ignoring automatic event during intervention cooldown").Len())
	assert.Equal(t, 1, logs.FilterMessage("tracker state restored").Len())
	assert.Zero(t, heldWhileLogging, "tracker lock held while logging")
}

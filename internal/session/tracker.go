// Package session tracks active sleep sessions per subject and arbitrates
// automatic sensor events against caregiver interventions.
//
// All state lives behind a single mutex. Every operation that checks the
// cooldown and then mutates a session does both in one critical section, so
// an intervention can never interleave between the check and the mutation.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/logic"
)

// DefaultCooldown is how long automatic events are ignored after an intervention.
const DefaultCooldown = 20 * time.Minute

// Session is an active sleep period.
type Session struct {
	SubjectID string    `json:"subject_id"`
	StartTime time.Time `json:"start_time"`
}

// Cooldown suppresses automatic events for a subject until ExpiresAt.
type Cooldown struct {
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OverrideResult describes the effect of an intervention.
type OverrideResult struct {
	SubjectID     string
	Action        logic.Action
	CooldownUntil time.Time
	// Started is set when mark_asleep opened a new session.
	Started *Session
	// Ended is set when mark_awake closed a session.
	Ended *Session
}

// Status is "sleeping" after mark_asleep and "awake" after mark_awake.
func (r OverrideResult) Status() string {
	if r.Action == logic.ActionMarkAsleep {
		return "sleeping"
	}
	return "awake"
}

// AutomaticResult describes the effect of a sensor lifecycle event.
type AutomaticResult struct {
	Kind      logic.EventType
	SubjectID string
	At        time.Time

	// Ignored is set when the subject was in cooldown; nothing changed.
	Ignored           bool
	CooldownRemaining int

	// Session is the started session (sleep-start) or the ended one
	// (sleep-end, baby-away) when HasSession is set.
	Session    Session
	HasSession bool
	// Created reports whether sleep-start opened a new session.
	Created bool
}

// Snapshot is the minimal state needed to replay the tracker.
type Snapshot struct {
	Sessions  []Session
	Cooldowns []Cooldown
}

// Tracker holds sessions and cooldowns. It is safe for concurrent use.
type Tracker struct {
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	sessions  map[string]Session
	cooldowns map[string]time.Time
	closed    bool

	changes chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker(now func() time.Time, logger *zap.Logger) *Tracker {
	return &Tracker{
		now:       now,
		logger:    logger.With(zap.String("component", "session")),
		sessions:  make(map[string]Session),
		cooldowns: make(map[string]time.Time),
		changes:   make(chan struct{}, 1),
	}
}

// Changes signals after any mutation. Signals coalesce; the receiver should
// take a Snapshot on each one. The channel is closed by Close.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

// Close stops change notifications. The tracker remains readable.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.changes)
}

// notify must be called with t.mu held.
func (t *Tracker) notify() {
	if t.closed {
		return
	}
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// StartSleep opens a session. If one exists it is returned unchanged with
// created=false.
func (t *Tracker) StartSleep(subjectID string) (Session, bool) {
	t.mu.Lock()
	s, created := t.startLocked(subjectID, t.now())
	t.mu.Unlock()

	if !created {
		t.logDuplicate(s)
	}
	return s, created
}

func (t *Tracker) startLocked(subjectID string, now time.Time) (Session, bool) {
	if s, ok := t.sessions[subjectID]; ok {
		return s, false
	}
	s := Session{SubjectID: subjectID, StartTime: now}
	t.sessions[subjectID] = s
	t.notify()
	return s, true
}

// EndSleep closes and returns the subject's session. ok is false when no
// session was tracked, which is not an error.
func (t *Tracker) EndSleep(subjectID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endLocked(subjectID)
}

func (t *Tracker) endLocked(subjectID string) (Session, bool) {
	s, ok := t.sessions[subjectID]
	if !ok {
		return Session{}, false
	}
	delete(t.sessions, subjectID)
	t.notify()
	return s, true
}

// InCooldown reports whether automatic events for the subject are suppressed.
// Expired entries are evicted.
func (t *Tracker) InCooldown(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.remainingLocked(subjectID, t.now())
	return ok
}

// CooldownRemaining returns whole minutes left, rounded up.
func (t *Tracker) CooldownRemaining(subjectID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(subjectID, t.now())
}

func (t *Tracker) remainingLocked(subjectID string, now time.Time) (int, bool) {
	exp, ok := t.cooldowns[subjectID]
	if !ok {
		return 0, false
	}
	if !now.Before(exp) {
		delete(t.cooldowns, subjectID)
		t.notify()
		return 0, false
	}
	return int(exp.Sub(now)/time.Minute) + 1, true
}

// StartCooldown sets (or resets) the subject's cooldown to now+d.
func (t *Tracker) StartCooldown(subjectID string, d time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cooldownLocked(subjectID, t.now(), d)
}

func (t *Tracker) cooldownLocked(subjectID string, now time.Time, d time.Duration) time.Time {
	exp := now.Add(d)
	t.cooldowns[subjectID] = exp
	t.notify()
	return exp
}

// ClearCooldown removes the subject's cooldown, reporting whether one existed.
func (t *Tracker) ClearCooldown(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cooldowns[subjectID]; !ok {
		return false
	}
	delete(t.cooldowns, subjectID)
	t.notify()
	return true
}

// Override applies a caregiver intervention: the cooldown is reset and the
// session is started or ended directly, bypassing the cooldown check.
func (t *Tracker) Override(subjectID string, action logic.Action, d time.Duration) (OverrideResult, error) {
	if _, err := logic.ParseAction(string(action)); err != nil {
		return OverrideResult{}, err
	}

	t.mu.Lock()
	now := t.now()
	res := OverrideResult{
		SubjectID:     subjectID,
		Action:        action,
		CooldownUntil: t.cooldownLocked(subjectID, now, d),
	}

	var duplicate *Session
	switch action {
	case logic.ActionMarkAsleep:
		if s, created := t.startLocked(subjectID, now); created {
			res.Started = &s
		} else {
			duplicate = &s
		}
	case logic.ActionMarkAwake:
		if s, ok := t.endLocked(subjectID); ok {
			res.Ended = &s
		}
	}
	t.mu.Unlock()

	if duplicate != nil {
		t.logDuplicate(*duplicate)
	}
	t.logger.Info("intervention applied",
		zap.String("subject_id", subjectID),
		zap.String("action", string(action)),
		zap.Time("cooldown_until", res.CooldownUntil))
	return res, nil
}

// ApplyAutomatic checks the cooldown and, if clear, applies a sensor
// lifecycle event in the same critical section.
func (t *Tracker) ApplyAutomatic(kind logic.EventType, subjectID string) (AutomaticResult, error) {
	switch kind {
	case logic.EventSleepStart, logic.EventSleepEnd, logic.EventBabyAway:
	default:
		return AutomaticResult{}, fmt.Errorf("unknown event type %q", kind)
	}

	t.mu.Lock()
	res := t.applyLocked(kind, subjectID, t.now())
	t.mu.Unlock()

	switch {
	case res.Ignored:
		t.logger.Info("ignoring automatic event during intervention cooldown",
			zap.String("subject_id", subjectID),
			zap.String("type", string(kind)),
			zap.Int("cooldown_remaining_minutes", res.CooldownRemaining))
	case kind == logic.EventSleepStart && !res.Created:
		t.logDuplicate(res.Session)
	}
	return res, nil
}

func (t *Tracker) applyLocked(kind logic.EventType, subjectID string, now time.Time) AutomaticResult {
	res := AutomaticResult{Kind: kind, SubjectID: subjectID, At: now}
	if remaining, ok := t.remainingLocked(subjectID, now); ok {
		res.Ignored = true
		res.CooldownRemaining = remaining
		return res
	}

	switch kind {
	case logic.EventSleepStart:
		res.Session, res.Created = t.startLocked(subjectID, now)
		res.HasSession = true
	case logic.EventSleepEnd, logic.EventBabyAway:
		res.Session, res.HasSession = t.endLocked(subjectID)
	}
	return res
}

func (t *Tracker) logDuplicate(s Session) {
	t.logger.Info("sleep session already active",
		zap.String("subject_id", s.SubjectID),
		zap.Time("start_time", s.StartTime))
}

// Session returns the subject's active session, if any.
func (t *Tracker) Session(subjectID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[subjectID]
	return s, ok
}

// Sleeping returns the subjects with an active session, sorted.
func (t *Tracker) Sleeping() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Snapshot copies sessions and unexpired cooldowns, sorted by subject.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	snap := Snapshot{
		Sessions:  make([]Session, 0, len(t.sessions)),
		Cooldowns: make([]Cooldown, 0, len(t.cooldowns)),
	}
	for _, s := range t.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	for id, exp := range t.cooldowns {
		if now.Before(exp) {
			snap.Cooldowns = append(snap.Cooldowns, Cooldown{SubjectID: id, ExpiresAt: exp})
		}
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].SubjectID < snap.Sessions[j].SubjectID })
	sort.Slice(snap.Cooldowns, func(i, j int) bool { return snap.Cooldowns[i].SubjectID < snap.Cooldowns[j].SubjectID })
	return snap
}

// Restore replaces the tracker state with snap. Expired cooldowns are skipped.
// It does not signal Changes.
func (t *Tracker) Restore(snap Snapshot) {
	t.mu.Lock()
	now := t.now()
	t.sessions = make(map[string]Session, len(snap.Sessions))
	t.cooldowns = make(map[string]time.Time, len(snap.Cooldowns))
	for _, s := range snap.Sessions {
		t.sessions[s.SubjectID] = s
	}
	for _, c := range snap.Cooldowns {
		if now.Before(c.ExpiresAt) {
			t.cooldowns[c.SubjectID] = c.ExpiresAt
		}
	}
	sessions, cooldowns := len(t.sessions), len(t.cooldowns)
	t.mu.Unlock()

	t.logger.Info("tracker state restored",
		zap.Int("sessions", sessions),
		zap.Int("cooldowns", cooldowns))
}

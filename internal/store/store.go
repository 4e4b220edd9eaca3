// Package store replicates session tracker state to Redis so crib-server
// can replay active sessions and cooldowns after a restart.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/config"
	"github.com/sweeney/crib-sensor/internal/session"
)

const (
	keySessions  = "crib:sessions"
	keyCooldowns = "crib:cooldowns"

	finalSaveTimeout = 5 * time.Second
)

// NewClient creates a Redis client from cfg.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// SnapshotStore saves and loads tracker snapshots as two hashes keyed by
// subject, holding RFC3339 timestamps.
type SnapshotStore struct {
	c *redis.Client
}

// NewSnapshotStore wraps c.
func NewSnapshotStore(c *redis.Client) *SnapshotStore {
	return &SnapshotStore{c: c}
}

// Save replaces the stored state with snap in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap session.Snapshot) error {
	_, err := s.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keySessions, keyCooldowns)
		if len(snap.Sessions) > 0 {
			fields := make(map[string]interface{}, len(snap.Sessions))
			for _, ss := range snap.Sessions {
				fields[ss.SubjectID] = ss.StartTime.UTC().Format(time.RFC3339Nano)
			}
			pipe.HSet(ctx, keySessions, fields)
		}
		if len(snap.Cooldowns) > 0 {
			fields := make(map[string]interface{}, len(snap.Cooldowns))
			for _, c := range snap.Cooldowns {
				fields[c.SubjectID] = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
			}
			pipe.HSet(ctx, keyCooldowns, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the stored state. A missing key is an empty snapshot.
func (s *SnapshotStore) Load(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot

	sessions, err := s.c.HGetAll(ctx, keySessions).Result()
	if err != nil {
		return snap, fmt.Errorf("load sessions: %w", err)
	}
	for id, v := range sessions {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return snap, fmt.Errorf("session %s: %w", id, err)
		}
		snap.Sessions = append(snap.Sessions, session.Session{SubjectID: id, StartTime: t})
	}

	cooldowns, err := s.c.HGetAll(ctx, keyCooldowns).Result()
	if err != nil {
		return snap, fmt.Errorf("load cooldowns: %w", err)
	}
	for id, v := range cooldowns {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return snap, fmt.Errorf("cooldown %s: %w", id, err)
		}
		snap.Cooldowns = append(snap.Cooldowns, session.Cooldown{SubjectID: id, ExpiresAt: t})
	}
	return snap, nil
}

// Source is the tracker side of replication.
type Source interface {
	Changes() <-chan struct{}
	Snapshot() session.Snapshot
}

// Replicator writes a snapshot to the store after every tracker change.
type Replicator struct {
	src    Source
	store  *SnapshotStore
	logger *zap.Logger
}

// NewReplicator creates a replicator.
func NewReplicator(src Source, store *SnapshotStore, logger *zap.Logger) *Replicator {
	return &Replicator{
		src:    src,
		store:  store,
		logger: logger.With(zap.String("component", "replicator")),
	}
}

// Run saves a snapshot after every change until ctx is cancelled or the
// source closes its change channel, then saves once more so changes made
// after the last signal are not lost. Save failures are logged and retried on
// the next change.
func (r *Replicator) Run(ctx context.Context) {
	defer r.final()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-r.src.Changes():
			if !ok {
				return
			}
			r.save(ctx)
		}
	}
}

func (r *Replicator) final() {
	ctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer cancel()
	r.save(ctx)
}

func (r *Replicator) save(ctx context.Context) {
	snap := r.src.Snapshot()
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Warn("tracker snapshot not saved", zap.Error(err))
		return
	}
	r.logger.Debug("tracker snapshot saved",
		zap.Int("sessions", len(snap.Sessions)),
		zap.Int("cooldowns", len(snap.Cooldowns)))
}

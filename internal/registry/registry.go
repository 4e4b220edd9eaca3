// Package registry answers "is this subject known?" for the API, caching
// positive lookups in front of the subjects table.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
)

// ErrUnknownSubject is returned for subjects that are not registered.
var ErrUnknownSubject = errors.New("unknown subject")

// Lookup is the backing store, normally repository.SubjectRepository.
type Lookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Registry caches known subjects. Unknown ids are not cached so a newly
// registered subject is accepted on its first event.
type Registry struct {
	lookup Lookup
	cache  *otter.Cache[string, struct{}]
	logger *zap.Logger
}

// New creates a registry holding at most size entries for ttl each.
func New(lookup Lookup, size int, ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		lookup: lookup,
		cache: otter.Must(&otter.Options[string, struct{}]{
			MaximumSize:      size,
			ExpiryCalculator: otter.ExpiryWriting[string, struct{}](ttl),
		}),
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Check returns nil for a known subject, ErrUnknownSubject for an unknown
// one, or the lookup error.
func (r *Registry) Check(ctx context.Context, id string) error {
	if id == "" {
		return ErrUnknownSubject
	}
	if _, ok := r.cache.GetIfPresent(id); ok {
		return nil
	}

	ok, err := r.lookup.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("subject lookup: %w", err)
	}
	if !ok {
		r.logger.Info("rejecting unknown subject", zap.String("subject_id", id))
		return ErrUnknownSubject
	}
	r.cache.Set(id, struct{}{})
	return nil
}

// Forget drops id from the cache.
func (r *Registry) Forget(id string) {
	r.cache.Invalidate(id)
}

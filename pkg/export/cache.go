package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/store/redis"
)

// DefaultStatusTTL bounds how stale a cached job view may be while the job is
// still in flight.
const DefaultStatusTTL = 5 * time.Second

// jobGetter is the slice of Store the cache reads through.
type jobGetter interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*JobView, error)
}

// kvStore is the key-value surface the cache needs. Satisfied by the Redis
// adapter; misses must be reported as redis.ErrNotFound.
type kvStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StatusCache is a read-through cache in front of Store.GetJob for polling
// clients. Cache failures are degraded to a direct store read, never surfaced.
type StatusCache struct {
	store  jobGetter
	cache  kvStore
	ttl    time.Duration
	logger logger.Logger
}

// NewStatusCache wraps a Store with a Redis-backed view cache. A ttl of zero
// means DefaultStatusTTL.
func NewStatusCache(store *Store, cache *redis.Adapter, ttl time.Duration, log logger.Logger) *StatusCache {
	return newStatusCache(store, cache, ttl, log)
}

func newStatusCache(store jobGetter, cache kvStore, ttl time.Duration, log logger.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{store: store, cache: cache, ttl: ttl, logger: log}
}

// GetJob returns the job view, serving from cache when a fresh entry exists.
// Terminal views are cached without expiry since they can no longer change.
func (c *StatusCache) GetJob(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	key := statusKey(jobID)

	cached, err := c.cache.Get(ctx, key)
	if err == nil {
		var view JobView
		if err := json.Unmarshal([]byte(cached), &view); err == nil {
			return &view, nil
		}
		c.logger.Warn("discarding undecodable cached job view", "job_id", jobID)
	} else if !errors.Is(err, redis.ErrNotFound) {
		c.logger.Warn("job view cache read failed", "job_id", jobID, "error", err)
	}

	view, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(view)
	if err == nil {
		ttl := c.ttl
		if view.Status.Terminal() {
			ttl = 0
		}
		if err := c.cache.SetWithTTL(ctx, key, string(payload), ttl); err != nil {
			c.logger.Warn("job view cache write failed", "job_id", jobID, "error", err)
		}
	}
	return view, nil
}

// Invalidate drops the cached view after a status change so the next poll
// observes the new state immediately. Safe on a nil cache.
func (c *StatusCache) Invalidate(ctx context.Context, jobID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.cache.Delete(ctx, statusKey(jobID)); err != nil {
		c.logger.Warn("job view cache invalidation failed", "job_id", jobID, "error", err)
	}
}

func statusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("export:job:%s", jobID)
}

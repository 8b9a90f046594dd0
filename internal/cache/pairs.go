// Package cache provides a Redis read-through cache for pairwise compatibility records.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/metrics"
)

// DefaultTTL is how long a cached record lives in Redis.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "vibematch:compat:"

// PairStore is the persistent store behind the cache.
type PairStore interface {
	Read(ctx context.Context, userID1, userID2 string) (*db.Compatibility, error)
	Upsert(ctx context.Context, rec *db.Compatibility) error
}

// redisClient is the subset of *goredis.Client used by the cache.
type redisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// PairCache wraps a PairStore with Redis. Reads are served from Redis when
// possible; writes go to the store first and then to Redis. Redis errors are
// logged and never fail the operation.
type PairCache struct {
	next PairStore
	rdb  redisClient
	ttl  time.Duration
}

// NewPairCache creates a PairCache. A non-positive ttl uses DefaultTTL.
func NewPairCache(next PairStore, rdb redisClient, ttl time.Duration) *PairCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PairCache{next: next, rdb: rdb, ttl: ttl}
}

// Connect opens a Redis client for addr and verifies it responds.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func key(userID1, userID2 string) string {
	return keyPrefix + userID1 + ":" + userID2
}

// Read returns the cached record, falling back to the store on a miss.
func (c *PairCache) Read(ctx context.Context, userID1, userID2 string) (*db.Compatibility, error) {
	raw, err := c.rdb.Get(ctx, key(userID1, userID2)).Bytes()
	switch {
	case err == nil:
		var rec db.Compatibility
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			metrics.PairCacheRequests.WithLabelValues("hit").Inc()
			return &rec, nil
		}
		metrics.PairCacheRequests.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Str("key", key(userID1, userID2)).Msg("discarding undecodable cache entry")
	case errors.Is(err, goredis.Nil):
		metrics.PairCacheRequests.WithLabelValues("miss").Inc()
	default:
		metrics.PairCacheRequests.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("redis read failed")
	}

	rec, err := c.next.Read(ctx, userID1, userID2)
	if err != nil {
		return nil, err
	}
	c.store(ctx, rec)
	return rec, nil
}

// Upsert writes the record to the store and then refreshes the cache.
func (c *PairCache) Upsert(ctx context.Context, rec *db.Compatibility) error {
	if err := c.next.Upsert(ctx, rec); err != nil {
		return err
	}
	c.store(ctx, rec)
	return nil
}

func (c *PairCache) store(ctx context.Context, rec *db.Compatibility) {
	raw, err := json.Marshal(rec)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("encoding cache entry")
		return
	}
	if err := c.rdb.Set(ctx, key(rec.UserID1, rec.UserID2), raw, c.ttl).Err(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("redis write failed")
	}
}

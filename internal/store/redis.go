package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and populate the cache; reads check
// Redis first then fall back to the primary. Records are immutable once
// written, so there is no invalidation concern beyond TTL expiry.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func recordKey(experimentID string) string {
	return "tac:record:" + experimentID
}

func (s *CachedStore) SaveRecord(ctx context.Context, rec *Record) error {
	if err := s.primary.SaveRecord(ctx, rec); err != nil {
		return err
	}
	s.cacheRecord(ctx, rec)
	return nil
}

func (s *CachedStore) GetRecord(ctx context.Context, experimentID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(experimentID)).Bytes()
	if err == nil {
		var rec Record
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	// Cache miss: read from primary.
	rec, err := s.primary.GetRecord(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	s.cacheRecord(ctx, rec)
	return rec, nil
}

func (s *CachedStore) ListExperiments(ctx context.Context) ([]string, error) {
	return s.primary.ListExperiments(ctx)
}

func (s *CachedStore) cacheRecord(ctx context.Context, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	// Best-effort: a cache write failure never fails the operation.
	s.rdb.Set(ctx, recordKey(rec.ExperimentID), data, s.ttl)
}

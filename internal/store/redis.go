package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/buyback-auction/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Archived rounds are immutable, so entries are only ever added.
// The round list is cached under a generation number that every save
// bumps, so a list read from the primary before a save can never be served
// after it.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) SaveRound(ctx context.Context, r *model.ArchivedRound) error {
	if err := s.primary.SaveRound(ctx, r); err != nil {
		return err
	}
	s.cache(ctx, roundKey(r.ID), r)
	s.rdb.Incr(ctx, roundGenKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, id string) (*model.ArchivedRound, error) {
	data, err := s.rdb.Get(ctx, roundKey(id)).Bytes()
	if err == nil {
		var r model.ArchivedRound
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, roundKey(id), r)
	return r, nil
}

func (s *CachedStore) ListRounds(ctx context.Context) ([]model.ArchivedRound, error) {
	// The generation is read before the primary so that a save landing in
	// between leaves this result under a key nobody reads any more.
	gen, err := s.rdb.Get(ctx, roundGenKey).Int64()
	cacheable := err == nil || errors.Is(err, redis.Nil)
	key := roundListKey(gen)

	if cacheable {
		if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var rounds []model.ArchivedRound
			if json.Unmarshal(data, &rounds) == nil {
				return rounds, nil
			}
		}
	}

	rounds, err := s.primary.ListRounds(ctx)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache(ctx, key, rounds)
	}
	return rounds, nil
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const roundGenKey = "rounds:gen"

func roundKey(id string) string { return fmt.Sprintf("round:%s", id) }

func roundListKey(gen int64) string { return fmt.Sprintf("rounds:list:%d", gen) }

package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Boombot/model"

	"github.com/go-redis/redis/v8"
)

// SearchStore keeps provider search results in Redis.
type SearchStore struct {
	rdb Client
}

// NewSearchStore creates a store backed by rdb.
func NewSearchStore(rdb Client) *SearchStore {
	return &SearchStore{rdb: rdb}
}

// SearchKey builds the Redis key for a provider and normalized query.
func SearchKey(provider, query string) string {
	sum := sha1.Sum([]byte(query))
	return fmt.Sprintf("boombot:search:%s:%s", provider, hex.EncodeToString(sum[:]))
}

// Get returns cached tracks. ok is false on a miss.
func (s *SearchStore) Get(ctx context.Context, provider, query string) ([]model.Track, bool, error) {
	raw, err := s.rdb.Get(ctx, SearchKey(provider, query)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read search cache: %w", err)
	}

	var tracks []model.Track
	if err := json.Unmarshal(raw, &tracks); err != nil {
		return nil, false, fmt.Errorf("decode search cache: %w", err)
	}
	return tracks, true, nil
}

// Put stores tracks for ttl.
func (s *SearchStore) Put(ctx context.Context, provider, query string, tracks []model.Track, ttl time.Duration) error {
	data, err := json.Marshal(tracks)
	if err != nil {
		return fmt.Errorf("encode search cache: %w", err)
	}
	if err := s.rdb.Set(ctx, SearchKey(provider, query), data, ttl).Err(); err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}
	return nil
}

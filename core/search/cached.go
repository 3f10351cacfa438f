package search

import (
	"context"
	"strings"
	"time"

	"Boombot/core/plugin"
	"Boombot/logger"
	"Boombot/model"

	"go.uber.org/zap"
)

// ResultStore persists provider results for a while.
type ResultStore interface {
	Get(ctx context.Context, provider, query string) ([]model.Track, bool, error)
	Put(ctx context.Context, provider, query string, tracks []model.Track, ttl time.Duration) error
}

// CachedProvider serves repeated queries from a ResultStore.
type CachedProvider struct {
	inner plugin.Provider
	store ResultStore
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedProvider wraps inner. Store failures fall through to inner.
func NewCachedProvider(inner plugin.Provider, store ResultStore, ttl time.Duration, log *zap.Logger) *CachedProvider {
	if log == nil {
		log = logger.L()
	}
	return &CachedProvider{inner: inner, store: store, ttl: ttl, log: log}
}

// Name returns the wrapped provider's name.
func (c *CachedProvider) Name() string {
	return c.inner.Name()
}

// Find returns cached results when present, otherwise asks the wrapped
// provider and caches a non-empty answer.
func (c *CachedProvider) Find(ctx context.Context, query string) []model.Track {
	key := normalizeQuery(query)

	tracks, ok, err := c.store.Get(ctx, c.Name(), key)
	switch {
	case err != nil:
		c.log.Warn("[CachedProvider] cache read failed",
			zap.String("provider", c.Name()),
			zap.Error(err))
	case ok:
		return tracks
	}

	tracks = c.inner.Find(ctx, query)
	if len(tracks) == 0 || ctx.Err() != nil {
		return tracks
	}

	if err := c.store.Put(ctx, c.Name(), key, tracks, c.ttl); err != nil {
		c.log.Warn("[CachedProvider] cache write failed",
			zap.String("provider", c.Name()),
			zap.Error(err))
	}
	return tracks
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

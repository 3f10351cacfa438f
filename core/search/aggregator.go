// Package search fans a query out to every provider and ranks the merged
// results by similarity to the query.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Boombot/core/plugin"
	"Boombot/logger"
	"Boombot/model"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Aggregator queries providers concurrently. It holds no mutable state and
// may be shared.
type Aggregator struct {
	providers []plugin.Provider
	timeout   time.Duration
	log       *zap.Logger
}

// NewAggregator creates an aggregator over providers, in tie-break order.
func NewAggregator(providers []plugin.Provider, timeout time.Duration, log *zap.Logger) *Aggregator {
	if log == nil {
		log = logger.L()
	}
	return &Aggregator{
		providers: providers,
		timeout:   timeout,
		log:       log,
	}
}

// Search returns every candidate ranked by ascending edit distance to query.
// A provider that errors, panics or misses its deadline contributes nothing;
// results that arrive after the deadline are dropped.
func (a *Aggregator) Search(ctx context.Context, query string) []model.Track {
	slots := make([][]model.Track, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p plugin.Provider) {
			defer wg.Done()
			slots[i] = a.query(ctx, p, query)
		}(i, p)
	}
	wg.Wait()

	merged := lo.Flatten(slots)
	a.log.Debug("[Aggregator] search complete",
		zap.String("query", query),
		zap.Int("candidates", len(merged)))
	return Rank(query, merged)
}

// Best returns the top ranked candidate, if any.
func (a *Aggregator) Best(ctx context.Context, query string) (model.Track, bool) {
	return lo.First(a.Search(ctx, query))
}

func (a *Aggregator) query(ctx context.Context, p plugin.Provider, query string) []model.Track {
	pctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan []model.Track, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("[Aggregator] provider panicked",
					zap.String("provider", p.Name()),
					zap.String("panic", fmt.Sprint(r)))
				done <- nil
			}
		}()
		done <- p.Find(pctx, query)
	}()

	select {
	case tracks := <-done:
		return tracks
	case <-pctx.Done():
		a.log.Warn("[Aggregator] provider timed out",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Duration("timeout", a.timeout))
		return nil
	}
}

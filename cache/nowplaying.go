package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Boombot/logger"
	"Boombot/model"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Keys used for the now-playing state.
const (
	NowPlayingKey     = "boombot:nowplaying"
	NowPlayingChannel = "boombot:nowplaying:events"
)

// NowPlayingPublisher mirrors feeder status into Redis: the latest state is
// kept under NowPlayingKey and every change is published on
// NowPlayingChannel. Updates are buffered; when the buffer is full the
// update is dropped so the feeder never waits on Redis.
type NowPlayingPublisher struct {
	rdb     Client
	updates chan model.NowPlaying
	log     *zap.Logger
}

// NewNowPlayingPublisher creates a publisher writing to rdb.
func NewNowPlayingPublisher(rdb Client, log *zap.Logger) *NowPlayingPublisher {
	if log == nil {
		log = logger.L()
	}
	return &NowPlayingPublisher{
		rdb:     rdb,
		updates: make(chan model.NowPlaying, 16),
		log:     log,
	}
}

// OnNowPlaying queues np for publishing without blocking.
func (p *NowPlayingPublisher) OnNowPlaying(np model.NowPlaying) {
	select {
	case p.updates <- np:
	default:
		p.log.Warn("[NowPlaying] publisher lagging, update dropped", zap.String("title", np.Title))
	}
}

// Run writes queued updates until ctx is done.
func (p *NowPlayingPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case np := <-p.updates:
			p.write(ctx, np)
		}
	}
}

func (p *NowPlayingPublisher) write(ctx context.Context, np model.NowPlaying) {
	data, err := json.Marshal(np)
	if err != nil {
		p.log.Error("[NowPlaying] encode failed", zap.Error(err))
		return
	}

	if err := p.rdb.Set(ctx, NowPlayingKey, data, 0).Err(); err != nil {
		p.log.Warn("[NowPlaying] store failed", zap.Error(err))
	}
	if err := p.rdb.Publish(ctx, NowPlayingChannel, data).Err(); err != nil {
		p.log.Warn("[NowPlaying] publish failed", zap.Error(err))
	}
}

// LoadNowPlaying reads the last published state. ok is false when nothing has been published yet.
func LoadNowPlaying(ctx context.Context, rdb Client) (np model.NowPlaying, ok bool, err error) {
	data, err := rdb.Get(ctx, NowPlayingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NowPlaying{}, false, nil
	}
	if err != nil {
		return model.NowPlaying{}, false, fmt.Errorf("get %s: %w", NowPlayingKey, err)
	}
	if err := json.Unmarshal(data, &np); err != nil {
		return model.NowPlaying{}, false, fmt.Errorf("decode %s: %w", NowPlayingKey, err)
	}
	return np, true, nil
}

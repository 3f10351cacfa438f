package plugin

import (
	"context"
	"fmt"

	"Boombot/core/netease"
	"Boombot/logger"
	"Boombot/model"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// NeteaseProvider searches a NetEase-compatible API.
type NeteaseProvider struct {
	client *netease.Client
	limit  int
	log    *zap.Logger
}

// NewNeteaseProvider creates a provider for the API at baseURL.
func NewNeteaseProvider(baseURL string, limit int, log *zap.Logger) *NeteaseProvider {
	if limit <= 0 {
		limit = 10
	}
	if log == nil {
		log = logger.L()
	}
	return &NeteaseProvider{
		client: netease.NewClient(baseURL),
		limit:  limit,
		log:    log,
	}
}

// Name returns the provider identifier.
func (p *NeteaseProvider) Name() string {
	return model.SourceNetease
}

// Find searches the API. Failures are logged and yield no tracks.
func (p *NeteaseProvider) Find(ctx context.Context, query string) []model.Track {
	result, err := p.client.SearchSongs(ctx, query, p.limit)
	if err != nil {
		p.log.Warn("[NeteaseProvider] search failed",
			zap.String("query", query),
			zap.Error(err))
		return nil
	}

	tracks := lo.Map(result.Songs, func(song model.NeteaseSong, _ int) model.Track {
		return model.Track{
			Artist:      song.ArtistNames(),
			Title:       song.Name,
			Length:      FormatLength(song.Duration),
			DownloadURL: song.URL,
			Source:      model.SourceNetease,
		}
	})

	p.log.Debug("[NeteaseProvider] search complete",
		zap.String("query", query),
		zap.Int("count", len(tracks)))
	return tracks
}

// FormatLength renders milliseconds as m:ss.
func FormatLength(ms int) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

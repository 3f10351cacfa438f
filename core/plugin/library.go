package plugin

import (
	"context"
	"path"
	"strings"
	"time"

	"Boombot/logger"
	"Boombot/model"
	"Boombot/storage"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ObjectLister is the part of the object store the library provider needs.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// LibraryProvider searches audio files kept in the bucket under a prefix.
// Object names follow "Artist - Title.ext".
type LibraryProvider struct {
	store  ObjectLister
	prefix string
	limit  int
	expiry time.Duration
	log    *zap.Logger
}

// NewLibraryProvider creates a provider over store objects under prefix.
func NewLibraryProvider(store ObjectLister, prefix string, limit int, log *zap.Logger) *LibraryProvider {
	if limit <= 0 {
		limit = 10
	}
	if log == nil {
		log = logger.L()
	}
	return &LibraryProvider{
		store:  store,
		prefix: prefix,
		limit:  limit,
		expiry: time.Hour,
		log:    log,
	}
}

// Name returns the provider identifier.
func (p *LibraryProvider) Name() string {
	return model.SourceLibrary
}

// Find returns library entries whose name contains every query word.
func (p *LibraryProvider) Find(ctx context.Context, query string) []model.Track {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}

	objects, err := p.store.ListObjects(ctx, p.prefix)
	if err != nil {
		p.log.Warn("[LibraryProvider] list failed",
			zap.String("prefix", p.prefix),
			zap.Error(err))
		return nil
	}

	matches := lo.Filter(objects, func(o storage.ObjectInfo, _ int) bool {
		if !storage.IsAudio(o.Key) {
			return false
		}
		name := strings.ToLower(path.Base(o.Key))
		return lo.EveryBy(words, func(w string) bool { return strings.Contains(name, w) })
	})
	if len(matches) > p.limit {
		matches = matches[:p.limit]
	}

	tracks := make([]model.Track, 0, len(matches))
	for _, o := range matches {
		if ctx.Err() != nil {
			return nil
		}
		u, err := p.store.PresignedGetURL(ctx, o.Key, p.expiry)
		if err != nil {
			p.log.Warn("[LibraryProvider] presign failed",
				zap.String("key", o.Key),
				zap.Error(err))
			continue
		}
		artist, title := ParseLibraryName(o.Key)
		tracks = append(tracks, model.Track{
			Artist:      artist,
			Title:       title,
			DownloadURL: u,
			Source:      model.SourceLibrary,
		})
	}
	return tracks
}

// ParseLibraryName splits "dir/Artist - Title.ext" into artist and title.
// Names without a separator have an empty artist.
func ParseLibraryName(key string) (artist, title string) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	if a, t, ok := strings.Cut(base, " - "); ok {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", strings.TrimSpace(base)
}

package feeder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Boombot/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ObjectGetter reads objects from the bucket.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Reloader accepts a replacement fallback clip.
type Reloader interface {
	ReloadFallback(data []byte)
}

// LoadFallback reads the fallback clip from path, or from the object store
// under key when path is empty or unreadable.
func LoadFallback(ctx context.Context, path string, store ObjectGetter, key string) ([]byte, error) {
	var fileErr error
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = errors.New("file is empty")
		}
		fileErr = fmt.Errorf("read fallback %s: %w", path, err)
	}

	if store == nil || key == "" {
		if fileErr != nil {
			return nil, fileErr
		}
		return nil, errors.New("no fallback clip configured")
	}

	data, err := store.GetObject(ctx, key)
	if err != nil {
		return nil, errors.Join(fileErr, fmt.Errorf("fetch fallback object %s: %w", key, err))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fallback object %s is empty", key)
	}
	return data, nil
}

// FallbackWatcher reloads the fallback clip when its file changes.
type FallbackWatcher struct {
	path   string
	target Reloader
	settle time.Duration
	log    *zap.Logger
}

// NewFallbackWatcher creates a watcher for path feeding target.
func NewFallbackWatcher(path string, target Reloader, log *zap.Logger) *FallbackWatcher {
	if log == nil {
		log = logger.L()
	}
	return &FallbackWatcher{
		path:   filepath.Clean(path),
		target: target,
		settle: 200 * time.Millisecond,
		log:    log,
	}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func (w *FallbackWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Info("[FallbackWatcher] watching fallback clip", zap.String("path", w.path))

	// A change is only picked up once the file stopped changing for settle.
	var pending time.Time
	ticker := time.NewTicker(w.settle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("[FallbackWatcher] watch error", zap.Error(err))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.settle {
				continue
			}
			pending = time.Time{}
			w.reload()
		}
	}
}

func (w *FallbackWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("[FallbackWatcher] reading changed clip failed",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}
	w.log.Info("[FallbackWatcher] fallback clip changed",
		zap.String("path", w.path),
		zap.Int("bytes", len(data)))
	w.target.ReloadFallback(data)
}

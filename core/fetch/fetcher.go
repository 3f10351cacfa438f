// Package fetch downloads track payloads, keeping a copy in object storage
// keyed by file name.
package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"Boombot/logger"
	"Boombot/model"
	"Boombot/storage"

	"go.uber.org/zap"
)

// StatusError reports a download that answered with a non-200 status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// DefaultMaxSize caps a buffered payload when New is given no limit.
const DefaultMaxSize = 64 << 20

// ErrTooLarge is returned when a payload exceeds the fetcher's size limit.
var ErrTooLarge = errors.New("payload too large")

// PayloadStore is the object store used to de-duplicate downloads.
type PayloadStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Fetcher downloads payloads over HTTP.
type Fetcher struct {
	client  *http.Client
	store   PayloadStore
	timeout time.Duration
	maxSize int64
	log     *zap.Logger
}

// New creates a fetcher. store may be nil. timeout bounds a full Fetch and
// maxSize the bytes it buffers; streams returned by Open are bounded only by
// their context.
func New(store PayloadStore, timeout time.Duration, maxSize int64, log *zap.Logger) *Fetcher {
	if log == nil {
		log = logger.L()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	return &Fetcher{
		client:  &http.Client{Transport: transport},
		store:   store,
		timeout: timeout,
		maxSize: maxSize,
		log:     log,
	}
}

// ObjectKey returns the storage key for t's payload. URLs whose file name
// has no extension (redirect endpoints) get a hash prefix so that distinct
// songs do not collide.
func ObjectKey(t *model.Track) string {
	name := t.Filename()
	if name == "" || path.Ext(name) == "" {
		sum := sha1.Sum([]byte(t.DownloadURL))
		name = hex.EncodeToString(sum[:8]) + "-" + name
	}
	return "tracks/" + name
}

// Fetch returns the full payload for t.
func (f *Fetcher) Fetch(ctx context.Context, t *model.Track) ([]byte, error) {
	key := ObjectKey(t)

	if f.store != nil {
		data, err := f.store.GetObject(ctx, key)
		if err == nil {
			f.log.Info("[Fetcher] payload served from storage",
				zap.String("key", key),
				zap.Int("bytes", len(data)))
			return data, nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			f.log.Warn("[Fetcher] storage lookup failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.Open(ctx, t.DownloadURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read payload from %s: %w", t.DownloadURL, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, t.DownloadURL, f.maxSize)
	}

	f.log.Info("[Fetcher] payload downloaded",
		zap.String("url", t.DownloadURL),
		zap.Int("bytes", len(data)))

	// Library tracks already live in the bucket.
	if f.store != nil && t.Source != model.SourceLibrary {
		if err := f.store.PutObject(ctx, key, data, storage.ContentTypeFor(key)); err != nil {
			f.log.Warn("[Fetcher] storing payload failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return data, nil
}

// Open starts a streaming download of rawURL. The caller closes the body.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("invalid download url %q: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Boombot")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return resp.Body, nil
}

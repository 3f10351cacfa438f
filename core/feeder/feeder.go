// Package feeder keeps the Icecast mount fed: queued tracks in order, the
// fallback clip in between.
package feeder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"Boombot/core/icecast"
	"Boombot/core/queue"
	"Boombot/logger"
	"Boombot/model"

	"go.uber.org/zap"
)

// IdleTitle is published whenever nothing is queued.
const IdleTitle = "No songs in queue. Write !!play SONG NAME"

// ErrConnectExhausted is returned by Connect when every attempt failed.
var ErrConnectExhausted = errors.New("feeder: connect attempts exhausted")

// Source opens a streaming download for tracks without a buffered payload.
type Source interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Observer receives every metadata change. Implementations must not block.
type Observer interface {
	OnNowPlaying(np model.NowPlaying)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(np model.NowPlaying)

// OnNowPlaying calls fn(np).
func (fn ObserverFunc) OnNowPlaying(np model.NowPlaying) { fn(np) }

// Options tunes a Feeder. Zero values select defaults.
type Options struct {
	ChunkSize          int
	MaxConnectAttempts int
	RetryDelay         time.Duration
	MetadataTimeout    time.Duration
	MetadataInterval   time.Duration // Minimum gap between queue depth refreshes
	Source             Source
	Observers          []Observer
	Logger             *zap.Logger
}

type commandKind int

const (
	cmdSkip commandKind = iota
	cmdShutdown
	cmdEnqueued
	cmdReload
)

type command struct {
	kind     commandKind
	fallback []byte
}

// Feeder owns the stream client. All playback state is confined to the Run
// goroutine; other goroutines talk to it through commands.
type Feeder struct {
	factory icecast.Factory
	client  icecast.StreamClient
	queue   *queue.TrackQueue
	opts    Options
	log     *zap.Logger

	cmds chan command
	done chan struct{}

	status atomic.Pointer[model.NowPlaying]

	// Run goroutine only.
	fallback *bytes.Reader
	current  *model.Track
	skip     bool
	shutdown bool
	buf      []byte

	lastTitle   string
	lastPublish time.Time
	depthStale  bool
}

// New creates a feeder reading tracks from q and looping fallback when q is
// empty. The fallback clip must not be empty.
func New(factory icecast.Factory, q *queue.TrackQueue, fallback []byte, opts Options) (*Feeder, error) {
	if len(fallback) == 0 {
		return nil, errors.New("feeder: empty fallback clip")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 4096
	}
	if opts.MaxConnectAttempts <= 0 {
		opts.MaxConnectAttempts = 10
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = time.Second
	}
	if opts.MetadataInterval <= 0 {
		opts.MetadataInterval = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}

	f := &Feeder{
		factory:  factory,
		queue:    q,
		opts:     opts,
		log:      log,
		cmds:     make(chan command, 64),
		done:     make(chan struct{}),
		fallback: bytes.NewReader(fallback),
		buf:      make([]byte, opts.ChunkSize),
	}
	f.status.Store(&model.NowPlaying{Idle: true})
	return f, nil
}

// Skip ends the current track. It has no effect on the fallback clip.
func (f *Feeder) Skip() {
	f.trySend(command{kind: cmdSkip})
}

// NotifyEnqueued tells the feeder the queue grew so the displayed queue
// depth can be refreshed. Refreshes are coalesced to at most one per
// MetadataInterval.
func (f *Feeder) NotifyEnqueued() {
	f.trySend(command{kind: cmdEnqueued})
}

// Shutdown asks the feeder to stop. It is honored at the next track
// boundary, or immediately while the fallback clip plays.
func (f *Feeder) Shutdown() {
	f.send(command{kind: cmdShutdown})
}

// ReloadFallback replaces the fallback clip. It restarts from the beginning
// the next time the fallback plays.
func (f *Feeder) ReloadFallback(data []byte) {
	if len(data) == 0 {
		f.log.Warn("[Feeder] ignoring empty fallback clip")
		return
	}
	f.send(command{kind: cmdReload, fallback: data})
}

// Done is closed when Run returns.
func (f *Feeder) Done() <-chan struct{} {
	return f.done
}

// Status returns the last published now-playing state.
func (f *Feeder) Status() model.NowPlaying {
	return *f.status.Load()
}

func (f *Feeder) trySend(c command) {
	select {
	case f.cmds <- c:
	case <-f.done:
	default:
		f.log.Warn("[Feeder] command dropped, channel full", zap.Int("kind", int(c.kind)))
	}
}

func (f *Feeder) send(c command) {
	select {
	case f.cmds <- c:
	case <-f.done:
	}
}

// Connect opens the stream client, retrying within the attempt budget.
// An ambiguous answer from the server is accepted as success. A stale
// handle is replaced with a fresh client from the factory.
func (f *Feeder) Connect(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= f.opts.MaxConnectAttempts; attempt++ {
		if f.client == nil {
			f.client = f.factory()
		}

		err := f.client.Open(ctx)
		switch {
		case err == nil:
			f.log.Info("[Feeder] connected to streaming server", zap.Int("attempt", attempt))
			return nil
		case errors.Is(err, icecast.ErrAmbiguousState):
			f.log.Warn("[Feeder] ambiguous connect result, assuming connected",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil
		case errors.Is(err, icecast.ErrStaleHandle):
			f.log.Info("[Feeder] stale client handle, recreating", zap.Int("attempt", attempt))
			f.client.Close()
			f.client = f.factory()
		default:
			f.log.Info("[Feeder] connect failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		lastErr = err

		if attempt == f.opts.MaxConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.opts.RetryDelay):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrConnectExhausted, f.opts.MaxConnectAttempts, lastErr)
}

// Run connects and streams until shutdown or ctx is done. A send failure
// after the connection is established ends Run with that error.
func (f *Feeder) Run(ctx context.Context) error {
	defer close(f.done)
	defer f.closeClient()

	if err := f.Connect(ctx); err != nil {
		return err
	}
	f.publishIdle(ctx)

	for {
		if f.shutdown || ctx.Err() != nil {
			f.log.Info("[Feeder] shutting down")
			return nil
		}

		t, ok := f.queue.TryPop()
		if !ok {
			if err := f.playFallback(ctx); err != nil {
				return err
			}
			continue
		}
		if err := f.playTrack(ctx, t); err != nil {
			return err
		}
	}
}

func (f *Feeder) closeClient() {
	if f.client == nil {
		return
	}
	if err := f.client.Close(); err != nil {
		f.log.Warn("[Feeder] closing stream client failed", zap.Error(err))
	}
}

// playFallback loops the fallback clip until a track is queued or the
// feeder is asked to stop.
func (f *Feeder) playFallback(ctx context.Context) error {
	f.log.Debug("[Feeder] playing fallback", zap.Int64("offset", f.fallbackOffset()))

	for {
		f.drainCommands(ctx)
		f.skip = false
		if f.shutdown || ctx.Err() != nil || f.queue.Len() > 0 {
			return nil
		}

		eof, err := f.pump(f.fallback)
		if err != nil {
			return err
		}
		if eof {
			f.log.Debug("[Feeder] fallback rewound")
			f.fallback.Seek(0, io.SeekStart)
		}
	}
}

func (f *Feeder) fallbackOffset() int64 {
	return f.fallback.Size() - int64(f.fallback.Len())
}

// playTrack streams t until it ends or is skipped. ctx is the hard stop: once
// it is done the track is cut at the next chunk.
func (f *Feeder) playTrack(ctx context.Context, t *model.Track) error {
	f.current = t
	f.skip = false
	defer func() {
		f.current = nil
		f.skip = false
	}()

	body, err := f.open(ctx, t)
	if err != nil {
		f.log.Error("[Feeder] cannot open track, dropping it",
			zap.String("track", t.Display()),
			zap.Error(err))
		f.afterTrack(ctx)
		return nil
	}
	defer body.Close()

	f.publishTrack(ctx)
	f.log.Info("[Feeder] playing",
		zap.String("track", t.Display()),
		zap.String("length", t.Length),
		zap.String("requester", t.Requester))

	for {
		f.drainCommands(ctx)
		if f.skip {
			f.log.Info("[Feeder] track skipped", zap.String("track", t.Display()))
			break
		}
		if ctx.Err() != nil {
			break
		}
		if f.depthStale && time.Since(f.lastPublish) >= f.opts.MetadataInterval {
			f.publishTrack(ctx)
		}

		eof, err := f.pump(body)
		if err != nil {
			return err
		}
		if eof {
			break
		}
	}

	f.log.Debug("[Feeder] track finished", zap.String("track", t.Display()))
	f.afterTrack(ctx)
	return nil
}

func (f *Feeder) afterTrack(ctx context.Context) {
	if f.queue.Len() == 0 {
		f.publishIdle(ctx)
	}
}

func (f *Feeder) open(ctx context.Context, t *model.Track) (io.ReadCloser, error) {
	if len(t.Payload) > 0 {
		return io.NopCloser(bytes.NewReader(t.Payload)), nil
	}
	if f.opts.Source == nil {
		return nil, errors.New("no payload and no source configured")
	}
	return f.opts.Source.Open(ctx, t.DownloadURL)
}

// pump moves one chunk from r to the stream client. A full chunk is sent
// and paced; a short final chunk is sent without pacing. eof reports that r
// is exhausted. Read failures end the stream; only send failures are
// returned as errors.
func (f *Feeder) pump(r io.Reader) (eof bool, err error) {
	n, readErr := io.ReadFull(r, f.buf)
	switch {
	case readErr == nil:
		if err := f.client.Send(f.buf); err != nil {
			return false, fmt.Errorf("feeder: send: %w", err)
		}
		f.client.Sync()
		return false, nil
	case errors.Is(readErr, io.ErrUnexpectedEOF):
		if err := f.client.Send(f.buf[:n]); err != nil {
			return false, fmt.Errorf("feeder: send: %w", err)
		}
		return true, nil
	case errors.Is(readErr, io.EOF):
		return true, nil
	default:
		f.log.Warn("[Feeder] read failed, ending stream", zap.Error(readErr))
		if n > 0 {
			if err := f.client.Send(f.buf[:n]); err != nil {
				return false, fmt.Errorf("feeder: send: %w", err)
			}
		}
		return true, nil
	}
}

func (f *Feeder) drainCommands(ctx context.Context) {
	for {
		select {
		case c := <-f.cmds:
			f.handle(ctx, c)
		default:
			return
		}
	}
}

func (f *Feeder) handle(ctx context.Context, c command) {
	switch c.kind {
	case cmdSkip:
		if f.current != nil {
			f.skip = true
		}
	case cmdShutdown:
		f.shutdown = true
	case cmdEnqueued:
		if f.current != nil {
			f.depthStale = true
		}
	case cmdReload:
		f.fallback = bytes.NewReader(c.fallback)
		f.log.Info("[Feeder] fallback clip reloaded", zap.Int("bytes", len(c.fallback)))
	}
}

// TrackTitle formats the metadata shown while t plays.
func TrackTitle(t *model.Track, queued int) string {
	return fmt.Sprintf("%s - %s (%s) @%s | %d tracks in queue",
		t.Artist, t.Title, t.Length, t.Requester, queued)
}

func (f *Feeder) publishTrack(ctx context.Context) {
	depth := f.queue.Len()
	f.publish(ctx, model.NowPlaying{
		Title:      TrackTitle(f.current, depth),
		Track:      f.current,
		QueueDepth: depth,
	})
}

func (f *Feeder) publishIdle(ctx context.Context) {
	f.publish(ctx, model.NowPlaying{
		Title:      IdleTitle,
		QueueDepth: f.queue.Len(),
		Idle:       true,
	})
}

// publish runs on the streaming goroutine, so the server is only asked when
// the title changed and never for longer than MetadataTimeout.
func (f *Feeder) publish(ctx context.Context, np model.NowPlaying) {
	np.UpdatedAt = time.Now()
	f.lastPublish = np.UpdatedAt
	f.depthStale = false

	if np.Title != f.lastTitle {
		mctx, cancel := context.WithTimeout(ctx, f.opts.MetadataTimeout)
		err := f.client.SetMetadata(mctx, np.Title)
		cancel()
		if err != nil {
			f.log.Warn("[Feeder] metadata update failed",
				zap.String("title", np.Title),
				zap.Error(err))
		} else {
			f.lastTitle = np.Title
		}
	}

	if np.Track != nil {
		shown := *np.Track
		shown.Payload = nil
		np.Track = &shown
	}
	f.status.Store(&np)
	for _, o := range f.opts.Observers {
		o.OnNowPlaying(np)
	}
}

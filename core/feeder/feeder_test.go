package feeder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"Boombot/core/icecast"
	"Boombot/core/queue"
	"Boombot/model"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeClient records what the feeder does with the stream.
type fakeClient struct {
	mu       sync.Mutex
	openErrs []error
	opens    int
	closed   bool
	events   []string
	sent     bytes.Buffer
	sends    int

	sendErrAt int
	onSend    func(n int)
}

func (c *fakeClient) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if len(c.openErrs) == 0 {
		return nil
	}
	err := c.openErrs[0]
	c.openErrs = c.openErrs[1:]
	return err
}

func (c *fakeClient) Send(p []byte) error {
	c.mu.Lock()
	c.sends++
	n := c.sends
	if c.sendErrAt > 0 && n == c.sendErrAt {
		c.mu.Unlock()
		return errors.New("broken pipe")
	}
	c.events = append(c.events, fmt.Sprintf("send:%d", len(p)))
	c.sent.Write(p)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *fakeClient) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "sync")
}

func (c *fakeClient) SetMetadata(_ context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "meta:"+title)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) snapshot() ([]string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...), append([]byte(nil), c.sent.Bytes()...)
}

func newTestFeeder(t *testing.T, fc *fakeClient, q *queue.TrackQueue, fallback []byte, opts Options) *Feeder {
	t.Helper()
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 4
	}
	f, err := New(func() icecast.StreamClient { return fc }, q, fallback, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func runFeeder(t *testing.T, f *Feeder) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- f.Run(context.Background()) }()

	select {
	case err := <-result:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("feeder did not stop")
		return nil
	}
}

func idle() string { return "meta:" + IdleTitle }

func TestNew_RejectsEmptyFallback(t *testing.T) {
	if _, err := New(nil, queue.New(), nil, Options{}); err == nil {
		t.Error("expected error for empty fallback")
	}
}

func TestRun_FallbackLoopsAndSkipsSyncOnShortChunk(t *testing.T) {
	fc := &fakeClient{}
	fallback := []byte("0123456789")
	f := newTestFeeder(t, fc, queue.New(), fallback, Options{})
	fc.onSend = func(n int) {
		if n == 5 {
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events, sent := fc.snapshot()
	want := []string{idle(), "send:4", "sync", "send:4", "sync", "send:2", "send:4", "sync", "send:4", "sync"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events\n got %v\nwant %v", events, want)
	}
	if string(sent) != "0123456789"+"01234567" {
		t.Errorf("unexpected bytes %q", sent)
	}
	if !fc.closed {
		t.Error("client not closed on shutdown")
	}
}

func TestRun_PlaysQueuedTrackThenReturnsToIdle(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "Band", Title: "Song", Length: "1:00", Requester: "nick", Payload: []byte("abcdef")})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFFFFFF"), Options{})
	fc.onSend = func(n int) {
		if n == 3 {
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events, sent := fc.snapshot()
	want := []string{
		idle(),
		"meta:Band - Song (1:00) @nick | 0 tracks in queue",
		"send:4", "sync", "send:2",
		idle(),
		"send:4", "sync",
	}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events\n got %v\nwant %v", events, want)
	}
	if string(sent) != "abcdefFFFF" {
		t.Errorf("unexpected bytes %q", sent)
	}
}

func TestRun_SkipEndsTrackAtNextChunk(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "long", Payload: bytes.Repeat([]byte("x"), 100)})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{})
	fc.onSend = func(n int) {
		switch n {
		case 2:
			f.Skip()
		case 3:
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	_, sent := fc.snapshot()
	if string(sent) != "xxxxxxxxFFFF" {
		t.Errorf("expected two track chunks then fallback, got %q", sent)
	}
}

func TestRun_SkipDuringFallbackIsDiscarded(t *testing.T) {
	q := queue.New()
	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{})
	fc.onSend = func(n int) {
		switch n {
		case 1:
			f.Skip()
		case 2:
			q.Push(&model.Track{Artist: "a", Title: "t", Payload: []byte("abcdefgh")})
		case 5:
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	_, sent := fc.snapshot()
	if string(sent) != "FFFFFFFFabcdefghFFFF" {
		t.Errorf("track should play in full, got %q", sent)
	}
}

func TestRun_ShutdownWaitsForTrackBoundary(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "first", Payload: []byte("111122223333")})
	q.Push(&model.Track{Artist: "a", Title: "second", Payload: []byte("4444")})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{})
	fc.onSend = func(n int) {
		if n == 1 {
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	_, sent := fc.snapshot()
	if string(sent) != "111122223333" {
		t.Errorf("expected the current track to finish, got %q", sent)
	}
	if q.Len() != 1 {
		t.Errorf("second track should remain queued, queue has %d", q.Len())
	}
}

func TestRun_EnqueueRefreshesQueueDepth(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "t", Length: "2:00", Requester: "n", Payload: []byte("12345678")})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{MetadataInterval: time.Nanosecond})
	fc.onSend = func(n int) {
		switch n {
		case 1:
			q.Push(&model.Track{Artist: "b", Title: "u"})
			f.NotifyEnqueued()
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events, _ := fc.snapshot()
	found := false
	for _, e := range events {
		if e == "meta:a - t (2:00) @n | 1 tracks in queue" {
			found = true
		}
	}
	if !found {
		t.Errorf("queue depth not refreshed: %v", events)
	}
}

func TestRun_EnqueueRefreshesAreCoalesced(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "t", Length: "2:00", Requester: "n", Payload: []byte("111122223333")})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{MetadataInterval: time.Hour})
	fc.onSend = func(n int) {
		switch n {
		case 1:
			for i := 0; i < 3; i++ {
				q.Push(&model.Track{Artist: "b", Title: "u"})
				f.NotifyEnqueued()
			}
		case 2:
			q.Push(&model.Track{Artist: "c", Title: "v"})
			f.NotifyEnqueued()
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events, sent := fc.snapshot()
	if string(sent) != "111122223333" {
		t.Errorf("track should play uninterrupted, got %q", sent)
	}
	var metas []string
	for _, e := range events {
		if strings.HasPrefix(e, "meta:a - t") {
			metas = append(metas, e)
		}
	}
	if len(metas) != 1 || metas[0] != "meta:a - t (2:00) @n | 0 tracks in queue" {
		t.Errorf("expected a single title update within the interval, got %v", metas)
	}
}

func TestRun_UnchangedTitleNotResent(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "gone", DownloadURL: "http://x/y.mp3"})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{Source: failingSource{}})
	fc.onSend = func(n int) {
		if n == 1 {
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events, _ := fc.snapshot()
	idles := 0
	for _, e := range events {
		if e == idle() {
			idles++
		}
	}
	if idles != 1 {
		t.Errorf("idle title should be sent once, got %d in %v", idles, events)
	}
}

func TestRun_ReloadFallbackRestartsClip(t *testing.T) {
	fc := &fakeClient{}
	f := newTestFeeder(t, fc, queue.New(), []byte("AAAAAAAA"), Options{})
	fc.onSend = func(n int) {
		switch n {
		case 1:
			f.ReloadFallback([]byte("BBBB"))
		case 3:
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	_, sent := fc.snapshot()
	if string(sent) != "AAAABBBBBBBB" {
		t.Errorf("unexpected bytes %q", sent)
	}
}

func TestRun_SendFailureIsFatal(t *testing.T) {
	fc := &fakeClient{sendErrAt: 2}
	f := newTestFeeder(t, fc, queue.New(), []byte("FFFFFFFF"), Options{})

	err := runFeeder(t, f)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected send error, got %v", err)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done not closed after Run returned")
	}
}

type failingSource struct{}

func (failingSource) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("404")
}

func TestRun_UnopenableTrackIsDropped(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "gone", DownloadURL: "http://x/y.mp3"})

	fc := &fakeClient{}
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{Source: failingSource{}})
	fc.onSend = func(n int) {
		if n == 1 {
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if q.Len() != 0 {
		t.Error("dropped track should have been consumed")
	}
	_, sent := fc.snapshot()
	if string(sent) != "FFFF" {
		t.Errorf("expected fallback after drop, got %q", sent)
	}
}

func TestRun_ObserversAndStatus(t *testing.T) {
	q := queue.New()
	q.Push(&model.Track{Artist: "a", Title: "t", Payload: []byte("1234")})

	var mu sync.Mutex
	var seen []model.NowPlaying
	obs := ObserverFunc(func(np model.NowPlaying) {
		mu.Lock()
		seen = append(seen, np)
		mu.Unlock()
	})

	fc := &fakeClient{}
	var during model.NowPlaying
	f := newTestFeeder(t, fc, q, []byte("FFFF"), Options{Observers: []Observer{obs}})
	fc.onSend = func(n int) {
		switch n {
		case 1:
			during = f.Status()
		case 2:
			f.Shutdown()
		}
	}

	if err := runFeeder(t, f); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if during.Idle || during.Track == nil || during.Track.Title != "t" {
		t.Errorf("unexpected status while playing: %+v", during)
	}
	if during.Track.Payload != nil {
		t.Error("status must not expose payload bytes")
	}
	if !f.Status().Idle {
		t.Errorf("expected idle status at the end, got %+v", f.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || !seen[0].Idle || seen[1].Idle || !seen[2].Idle {
		t.Errorf("unexpected observer sequence: %+v", seen)
	}
}

func TestConnect_RetriesTransient(t *testing.T) {
	fc := &fakeClient{openErrs: []error{icecast.ErrTransient, icecast.ErrTransient}}
	f := newTestFeeder(t, fc, queue.New(), []byte("F"), Options{MaxConnectAttempts: 5})

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if fc.opens != 3 {
		t.Errorf("expected 3 attempts, got %d", fc.opens)
	}
}

func TestConnect_Exhausted(t *testing.T) {
	fc := &fakeClient{openErrs: []error{icecast.ErrTransient, icecast.ErrTransient, icecast.ErrTransient, nil}}
	f := newTestFeeder(t, fc, queue.New(), []byte("F"), Options{MaxConnectAttempts: 3})

	err := f.Connect(context.Background())
	if !errors.Is(err, ErrConnectExhausted) || !errors.Is(err, icecast.ErrTransient) {
		t.Fatalf("expected exhausted error wrapping the last failure, got %v", err)
	}
	if fc.opens != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", fc.opens)
	}

	// Run reports the same failure and closes Done.
	fc2 := &fakeClient{openErrs: []error{icecast.ErrTransient}}
	f2 := newTestFeeder(t, fc2, queue.New(), []byte("F"), Options{MaxConnectAttempts: 1})
	if err := runFeeder(t, f2); !errors.Is(err, ErrConnectExhausted) {
		t.Errorf("Run: expected ErrConnectExhausted, got %v", err)
	}
}

func TestConnect_AmbiguousIsSuccessAndLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fc := &fakeClient{openErrs: []error{fmt.Errorf("%w: weird", icecast.ErrAmbiguousState)}}
	f := newTestFeeder(t, fc, queue.New(), []byte("F"), Options{Logger: zap.New(core)})

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if fc.opens != 1 {
		t.Errorf("expected a single attempt, got %d", fc.opens)
	}
	entries := logs.FilterMessage("[Feeder] ambiguous connect result, assuming connected").All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Errorf("expected one warning about the ambiguous result, got %v", logs.All())
	}
}

func TestConnect_StaleHandleRecreatesClient(t *testing.T) {
	stale := &fakeClient{openErrs: []error{icecast.ErrStaleHandle}}
	fresh := &fakeClient{}
	clients := []*fakeClient{stale, fresh}
	made := 0

	factory := func() icecast.StreamClient {
		c := clients[made]
		made++
		return c
	}
	f, err := New(factory, queue.New(), []byte("F"), Options{MaxConnectAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if made != 2 || !stale.closed || fresh.opens != 1 {
		t.Errorf("expected a recreated client: made=%d staleClosed=%v freshOpens=%d", made, stale.closed, fresh.opens)
	}
}

func TestConnect_StopsOnCancel(t *testing.T) {
	fc := &fakeClient{openErrs: []error{icecast.ErrTransient, icecast.ErrTransient}}
	f := newTestFeeder(t, fc, queue.New(), []byte("F"), Options{MaxConnectAttempts: 10, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestTrackTitle(t *testing.T) {
	tr := &model.Track{Artist: "A", Title: "B", Length: "3:21", Requester: "bob"}
	if got := TrackTitle(tr, 2); got != "A - B (3:21) @bob | 2 tracks in queue" {
		t.Errorf("unexpected title %q", got)
	}
}

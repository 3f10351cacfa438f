package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Boombot/core/fetch"
	"Boombot/core/queue"
	"Boombot/model"
)

type fakeSearcher map[string][]model.Track

func (s fakeSearcher) Best(_ context.Context, q string) (model.Track, bool) {
	if len(s[q]) == 0 {
		return model.Track{}, false
	}
	return s[q][0], true
}

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) Fetch(_ context.Context, t *model.Track) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("payload:" + t.Title), nil
}

type fakeController struct {
	mu        sync.Mutex
	skips     int
	shutdowns int
	enqueued  int
}

func (c *fakeController) Skip()           { c.mu.Lock(); c.skips++; c.mu.Unlock() }
func (c *fakeController) Shutdown()       { c.mu.Lock(); c.shutdowns++; c.mu.Unlock() }
func (c *fakeController) NotifyEnqueued() { c.mu.Lock(); c.enqueued++; c.mu.Unlock() }

func (c *fakeController) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skips, c.shutdowns, c.enqueued
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []model.RequestRecord
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, rec *model.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return r.err
}

type harness struct {
	requests chan model.SongRequest
	queue    *queue.TrackQueue
	ctrl     *fakeController
	recorder *fakeRecorder
	cancel   context.CancelFunc
	done     chan error
}

func start(t *testing.T, searcher Searcher, fetcher Fetcher) *harness {
	t.Helper()
	h := &harness{
		requests: make(chan model.SongRequest, 16),
		queue:    queue.New(),
		ctrl:     &fakeController{},
		recorder: &fakeRecorder{},
		done:     make(chan error, 1),
	}
	d := New(h.requests, searcher, fetcher, h.queue, h.ctrl, h.recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) ask(t *testing.T, nick, query string) string {
	t.Helper()
	req := model.NewSearchRequest("id-"+query, nick, query, "127.0.0.1:5000")
	h.requests <- req
	select {
	case reply := <-req.Reply:
		return reply
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for %q", query)
		return ""
	}
}

var library = fakeSearcher{
	"one":   {{Artist: "A", Title: "One"}, {Artist: "Z", Title: "Other"}},
	"two":   {{Artist: "B", Title: "Two"}},
	"three": {{Artist: "C", Title: "Three"}},
}

func TestDispatch_NotFound(t *testing.T) {
	h := start(t, library, fakeFetcher{})

	if got := h.ask(t, "nick", "missing"); got != "Track not found: missing" {
		t.Errorf("unexpected reply %q", got)
	}
	if h.queue.Len() != 0 {
		t.Error("nothing should be queued")
	}
}

func TestDispatch_QueuePositions(t *testing.T) {
	h := start(t, library, fakeFetcher{})

	if got := h.ask(t, "n1", "one"); got != "Queued next: A - One" {
		t.Errorf("first reply %q", got)
	}
	if got := h.ask(t, "n2", "two"); got != "Queue #2: B - Two" {
		t.Errorf("second reply %q", got)
	}
	if got := h.ask(t, "n3", "three"); got != "Queue #3: C - Three" {
		t.Errorf("third reply %q", got)
	}

	// FIFO with requester and payload attached.
	for _, want := range []struct{ title, requester string }{{"One", "n1"}, {"Two", "n2"}, {"Three", "n3"}} {
		got, ok := h.queue.TryPop()
		if !ok {
			t.Fatal("queue ran dry")
		}
		if got.Title != want.title || got.Requester != want.requester {
			t.Errorf("got %s@%s, want %s@%s", got.Title, got.Requester, want.title, want.requester)
		}
		if string(got.Payload) != "payload:"+want.title {
			t.Errorf("unexpected payload %q", got.Payload)
		}
	}

	if _, _, enq := h.ctrl.counts(); enq != 3 {
		t.Errorf("expected 3 enqueue notifications, got %d", enq)
	}
}

func TestDispatch_DownloadFailure(t *testing.T) {
	h := start(t, library, fakeFetcher{err: &fetch.StatusError{Code: 404, URL: "http://x"}})

	if got := h.ask(t, "nick", "one"); got != "Unable to download one. Error 404" {
		t.Errorf("unexpected reply %q", got)
	}
	if h.queue.Len() != 0 {
		t.Error("failed download must not be queued")
	}
}

func TestDispatch_DownloadFailureWithoutStatus(t *testing.T) {
	h := start(t, library, fakeFetcher{err: errors.New("connection reset")})

	if got := h.ask(t, "nick", "one"); got != "Unable to download one. Error unavailable" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestDispatch_SkipForwarded(t *testing.T) {
	h := start(t, library, fakeFetcher{})

	h.requests <- model.NewSkipRequest("id", "nick", "127.0.0.1:1")
	// A search after the skip proves the skip was handled first.
	h.ask(t, "nick", "one")

	if skips, _, _ := h.ctrl.counts(); skips != 1 {
		t.Errorf("expected one skip, got %d", skips)
	}
}

func TestDispatch_ShutdownOnCancel(t *testing.T) {
	h := start(t, library, fakeFetcher{})
	h.cancel()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
		h.done <- err // Let cleanup drain it.
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	if _, shutdowns, _ := h.ctrl.counts(); shutdowns != 1 {
		t.Errorf("expected feeder shutdown, got %d", shutdowns)
	}
}

func TestDispatch_ShutdownOnClosedChannel(t *testing.T) {
	requests := make(chan model.SongRequest)
	ctrl := &fakeController{}
	d := New(requests, library, fakeFetcher{}, queue.New(), ctrl, nil, nil)

	close(requests)
	if err := d.Run(context.Background()); err != nil {
		t.Errorf("Run returned %v", err)
	}
	if _, shutdowns, _ := ctrl.counts(); shutdowns != 1 {
		t.Errorf("expected feeder shutdown, got %d", shutdowns)
	}
}

func TestDispatch_RecordsHistory(t *testing.T) {
	h := start(t, library, fakeFetcher{})
	h.recorder.err = errors.New("db down") // Must not affect replies.

	h.ask(t, "n1", "missing")
	h.ask(t, "n1", "one")
	h.requests <- model.NewSkipRequest("sk", "n2", "127.0.0.1:1")
	h.ask(t, "n3", "two")

	// The last record is written after its reply.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.recorder.mu.Lock()
		n := len(h.recorder.records)
		h.recorder.mu.Unlock()
		if n >= 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()

	want := []string{model.OutcomeNotFound, model.OutcomeQueued, model.OutcomeSkip, model.OutcomeQueued}
	if len(h.recorder.records) != len(want) {
		t.Fatalf("expected %d records, got %+v", len(want), h.recorder.records)
	}
	for i, rec := range h.recorder.records {
		if rec.Outcome != want[i] {
			t.Errorf("record %d: outcome %s, want %s", i, rec.Outcome, want[i])
		}
	}
	if q := h.recorder.records[1]; q.Artist != "A" || q.Title != "One" || q.Position != 1 {
		t.Errorf("unexpected queued record %+v", q)
	}
}

// fetcherFunc adapts a function to Fetcher.
type fetcherFunc func(ctx context.Context, t *model.Track) ([]byte, error)

func (fn fetcherFunc) Fetch(ctx context.Context, t *model.Track) ([]byte, error) { return fn(ctx, t) }

func waitRecords(t *testing.T, r *fakeRecorder, n int) []model.RequestRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		recs := append([]model.RequestRecord(nil), r.records...)
		r.mu.Unlock()
		if len(recs) >= n {
			return recs
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d records, got %+v", n, recs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatch_DropsTrackWhenRequesterGaveUpDuringDownload(t *testing.T) {
	req := model.NewSearchRequest("late", "n1", "one", "127.0.0.1:1")
	slow := fetcherFunc(func(context.Context, *model.Track) ([]byte, error) {
		req.Abandon() // The handler timed out while the download ran.
		return []byte("payload"), nil
	})
	h := start(t, library, slow)

	h.requests <- req
	recs := waitRecords(t, h.recorder, 1)

	if h.queue.Len() != 0 {
		t.Errorf("abandoned request must not be queued, queue has %d", h.queue.Len())
	}
	if _, _, enqueued := h.ctrl.counts(); enqueued != 0 {
		t.Errorf("feeder notified %d times", enqueued)
	}
	select {
	case r := <-req.Reply:
		t.Errorf("unexpected reply %q", r)
	default:
	}
	if recs[0].Outcome != model.OutcomeExpired || recs[0].Title != "One" {
		t.Errorf("unexpected record %+v", recs[0])
	}

	// The dispatcher keeps serving.
	if got := h.ask(t, "n2", "two"); got != "Queued next: B - Two" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestDispatch_SkipsRequestAbandonedInBacklog(t *testing.T) {
	var searched atomic.Bool
	h := start(t, searchFunc(func(string) []model.Track {
		searched.Store(true)
		return nil
	}), fakeFetcher{})

	req := model.NewSearchRequest("stale", "n1", "one", "127.0.0.1:1")
	req.Abandon()
	h.requests <- req

	recs := waitRecords(t, h.recorder, 1)
	if recs[0].Outcome != model.OutcomeExpired {
		t.Errorf("expected expired outcome, got %+v", recs[0])
	}
	if searched.Load() {
		t.Error("abandoned request should not be searched")
	}
}

type searchFunc func(q string) []model.Track

func (fn searchFunc) Best(_ context.Context, q string) (model.Track, bool) {
	found := fn(q)
	if len(found) == 0 {
		return model.Track{}, false
	}
	return found[0], true
}

func TestReplies(t *testing.T) {
	tr := &model.Track{Artist: "X", Title: "Y"}
	if got := QueuedReply(tr, 1); got != "Queued next: X - Y" {
		t.Errorf("got %q", got)
	}
	if got := QueuedReply(tr, 7); got != "Queue #7: X - Y" {
		t.Errorf("got %q", got)
	}
}

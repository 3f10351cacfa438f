// Package dispatcher turns song requests into queued tracks and feeder
// commands. It is the only consumer of the request channel.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"Boombot/core/fetch"
	"Boombot/core/queue"
	"Boombot/logger"
	"Boombot/model"

	"go.uber.org/zap"
)

// Searcher picks the best candidate for a query.
type Searcher interface {
	Best(ctx context.Context, query string) (model.Track, bool)
}

// Fetcher downloads a track payload.
type Fetcher interface {
	Fetch(ctx context.Context, t *model.Track) ([]byte, error)
}

// Controller is the feeder's command surface.
type Controller interface {
	Skip()
	Shutdown()
	NotifyEnqueued()
}

// Recorder stores an audit record per handled request.
type Recorder interface {
	Record(ctx context.Context, rec *model.RequestRecord) error
}

// Dispatcher serializes request handling.
type Dispatcher struct {
	requests <-chan model.SongRequest
	searcher Searcher
	fetcher  Fetcher
	queue    *queue.TrackQueue
	feeder   Controller
	recorder Recorder
	log      *zap.Logger
}

// New creates a dispatcher. recorder may be nil.
func New(requests <-chan model.SongRequest, searcher Searcher, fetcher Fetcher,
	q *queue.TrackQueue, feeder Controller, recorder Recorder, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = logger.L()
	}
	return &Dispatcher{
		requests: requests,
		searcher: searcher,
		fetcher:  fetcher,
		queue:    q,
		feeder:   feeder,
		recorder: recorder,
		log:      log,
	}
}

// Run handles requests until ctx is done or the request channel closes,
// then tells the feeder to shut down.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.feeder.Shutdown()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("[Dispatcher] stopping")
			return nil
		case req, ok := <-d.requests:
			if !ok {
				d.log.Info("[Dispatcher] request channel closed")
				return nil
			}
			d.handle(ctx, req)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, req model.SongRequest) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("[Dispatcher] request handler panicked",
				zap.String("request_id", req.ID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if req.Skip {
		d.log.Info("[Dispatcher] skip requested",
			zap.String("request_id", req.ID),
			zap.String("requester", req.Requester))
		d.feeder.Skip()
		d.record(ctx, req, model.OutcomeSkip, nil, 0)
		return
	}

	d.handleSearch(ctx, req)
}

func (d *Dispatcher) handleSearch(ctx context.Context, req model.SongRequest) {
	log := d.log.With(
		zap.String("request_id", req.ID),
		zap.String("requester", req.Requester),
		zap.String("query", req.Query))

	if req.Abandoned() {
		log.Info("[Dispatcher] requester gave up before handling")
		d.record(ctx, req, model.OutcomeExpired, nil, 0)
		return
	}

	best, ok := d.searcher.Best(ctx, req.Query)
	if !ok {
		log.Info("[Dispatcher] no match")
		d.reply(req, NotFoundReply(req.Query))
		d.record(ctx, req, model.OutcomeNotFound, nil, 0)
		return
	}

	track := best
	payload, err := d.fetcher.Fetch(ctx, &track)
	if err != nil {
		log.Warn("[Dispatcher] download failed",
			zap.String("url", track.DownloadURL),
			zap.Error(err))
		d.reply(req, DownloadFailedReply(req.Query, err))
		d.record(ctx, req, model.OutcomeDownloadFailed, &track, 0)
		return
	}
	track.Payload = payload
	track.Requester = req.Requester

	if !req.Commit() {
		log.Info("[Dispatcher] requester gave up, dropping track", zap.String("track", track.Display()))
		d.record(ctx, req, model.OutcomeExpired, &track, 0)
		return
	}

	// Position is read before the push; the dispatcher is the only producer.
	position := d.queue.Len() + 1
	d.queue.Push(&track)
	d.feeder.NotifyEnqueued()

	log.Info("[Dispatcher] track queued",
		zap.String("track", track.Display()),
		zap.Int("position", position),
		zap.String("source", track.Source))
	d.reply(req, QueuedReply(&track, position))
	d.record(ctx, req, model.OutcomeQueued, &track, position)
}

func (d *Dispatcher) reply(req model.SongRequest, msg string) {
	if req.Reply == nil {
		return
	}
	select {
	case req.Reply <- msg:
	default:
		d.log.Warn("[Dispatcher] reply already sent", zap.String("request_id", req.ID))
	}
}

func (d *Dispatcher) record(ctx context.Context, req model.SongRequest, outcome string, t *model.Track, position int) {
	if d.recorder == nil {
		return
	}

	rec := &model.RequestRecord{
		RequestID:  req.ID,
		Requester:  req.Requester,
		RemoteAddr: req.RemoteAddr,
		Query:      req.Query,
		Outcome:    outcome,
		Position:   position,
	}
	if t != nil {
		rec.Artist = t.Artist
		rec.Title = t.Title
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.recorder.Record(rctx, rec); err != nil {
		d.log.Warn("[Dispatcher] recording request failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

// NotFoundReply is sent when no provider found a candidate.
func NotFoundReply(query string) string {
	return "Track not found: " + query
}

// DownloadFailedReply is sent when the best candidate could not be fetched.
// The HTTP status is reported when there is one.
func DownloadFailedReply(query string, err error) string {
	status := "unavailable"
	if code := fetch.StatusCode(err); code != 0 {
		status = strconv.Itoa(code)
	}
	return fmt.Sprintf("Unable to download %s. Error %s", query, status)
}

// QueuedReply confirms a queued track at a 1-based position.
func QueuedReply(t *model.Track, position int) string {
	if position == 1 {
		return "Queued next: " + t.Display()
	}
	return fmt.Sprintf("Queue #%d: %s", position, t.Display())
}

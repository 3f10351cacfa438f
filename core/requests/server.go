package requests

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"Boombot/core/codec"
	"Boombot/logger"
	"Boombot/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SkipReply is sent as soon as a skip command is accepted.
const SkipReply = "OK"

// Config configures the request server.
type Config struct {
	Addr           string
	InEncodings    codec.Chain
	OutEncodings   codec.Chain
	ReadTimeout    time.Duration // Deadline for receiving the request
	ReplyTimeout   time.Duration // How long a handler waits for the dispatcher
	MaxConnections int
}

// Server accepts request connections and forwards them to the dispatcher.
type Server struct {
	cfg      Config
	requests chan<- model.SongRequest
	log      *zap.Logger

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a server that sends commands to requests.
func NewServer(cfg Config, requests chan<- model.SongRequest, log *zap.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 64
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 2 * time.Minute
	}
	if log == nil {
		log = logger.L()
	}
	return &Server{
		cfg:      cfg,
		requests: requests,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConnections),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.log.Info("[RequestServer] listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done, then closes the listener and
// open connections and waits for handlers to return.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("request server: Serve called before Listen")
	}

	defer s.wg.Wait()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.listener.Close()
		s.closeConns()
	}()

	var backoff time.Duration
	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := s.listener.Accept()
		if err != nil {
			<-s.sem
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("[RequestServer] stopped")
				return nil
			}
			backoff = nextBackoff(backoff)
			s.log.Warn("[RequestServer] accept failed",
				zap.Error(err),
				zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handle(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("[RequestServer] handler panicked",
				zap.String("remote", remote),
				zap.String("panic", fmt.Sprint(r)))
		}
		s.track(conn, false)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	nick, msg, err := ReadRequest(conn, s.cfg.InEncodings)
	if err != nil {
		s.log.Warn("[RequestServer] malformed request",
			zap.String("remote", remote),
			zap.Error(err))
		return
	}
	if msg == "" {
		s.log.Warn("[RequestServer] empty request", zap.String("remote", remote))
		return
	}

	id := uuid.NewString()
	s.log.Info("[RequestServer] song request",
		zap.String("request_id", id),
		zap.String("nick", nick),
		zap.String("remote", remote),
		zap.String("message", msg))

	if msg == model.SkipCommand {
		if s.submit(ctx, model.NewSkipRequest(id, nick, remote), time.After(s.cfg.ReplyTimeout)) {
			s.write(conn, []byte(SkipReply))
		}
		return
	}

	req := model.NewSearchRequest(id, nick, msg, remote)
	reply := s.await(ctx, req)
	s.write(conn, EncodeReply(reply, s.cfg.OutEncodings))
}

// submit hands req to the dispatcher, giving up when ctx or expired fire.
func (s *Server) submit(ctx context.Context, req model.SongRequest, expired <-chan time.Time) bool {
	select {
	case s.requests <- req:
		return true
	case <-expired:
		s.log.Warn("[RequestServer] dispatcher busy, request dropped", zap.String("request_id", req.ID))
	case <-ctx.Done():
	}
	return false
}

// await submits req and waits for its reply within the reply timeout. A
// request given up on is abandoned so the dispatcher does not queue it; if
// the dispatcher already committed, its reply is still delivered.
func (s *Server) await(ctx context.Context, req model.SongRequest) string {
	timer := time.NewTimer(s.cfg.ReplyTimeout)
	defer timer.Stop()

	if s.submit(ctx, req, timer.C) {
		select {
		case reply := <-req.Reply:
			return reply
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	if !req.Abandon() {
		select {
		case reply := <-req.Reply:
			return reply
		case <-time.After(s.cfg.ReadTimeout):
		}
	}

	s.log.Warn("[RequestServer] no reply in time",
		zap.String("request_id", req.ID),
		zap.Duration("timeout", s.cfg.ReplyTimeout))
	return TimeoutReply(req.Query)
}

func (s *Server) write(conn net.Conn, data []byte) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	if _, err := conn.Write(data); err != nil {
		s.log.Warn("[RequestServer] write reply failed",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
	}
}

// TimeoutReply is sent when the dispatcher did not answer in time.
func TimeoutReply(query string) string {
	return "Request timed out: " + query
}

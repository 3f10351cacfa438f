// Package server exposes the HTTP status API: health, now playing, the
// pending queue, request history, a websocket feed of now-playing changes and
// an authenticated skip control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Boombot/core/auth"
	"Boombot/logger"
	"Boombot/model"
	"Boombot/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StatusSource reports the current now-playing state.
type StatusSource interface {
	Status() model.NowPlaying
}

// QueueSource lists the tracks waiting to play, next first.
type QueueSource interface {
	Snapshot() []model.Track
}

// Options holds the optional parts of the API.
type Options struct {
	JWTSecret string                       // Empty disables the skip endpoint
	History   repository.HistoryRepository // Nil disables /api/history
	Queue     QueueSource                  // Nil disables /api/queue
	Logger    *zap.Logger
}

type queueEntry struct {
	Position  int    `json:"position"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Length    string `json:"length"`
	Requester string `json:"requester"`
	Source    string `json:"source"`
}

// Server is the HTTP status API.
type Server struct {
	status   StatusSource
	hub      *Hub
	requests chan<- model.SongRequest
	secret   []byte
	history  repository.HistoryRepository
	queue    QueueSource
	router   *mux.Router
	log      *zap.Logger
}

type ctxKey int

const claimsKey ctxKey = iota

// New wires the routes. Skip commands are submitted on requests, the same
// path the request server uses.
func New(status StatusSource, hub *Hub, requests chan<- model.SongRequest, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	s := &Server{
		status:   status,
		hub:      hub,
		requests: requests,
		secret:   []byte(opts.JWTSecret),
		history:  opts.History,
		queue:    opts.Queue,
		router:   mux.NewRouter(),
		log:      log,
	}

	s.router.Use(corsMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/queue", s.handleQueue).Methods(http.MethodGet)
	s.router.HandleFunc("/api/skip", s.authMiddleware(s.handleSkip)).Methods(http.MethodPost)
	if hub != nil {
		s.router.HandleFunc("/ws/nowplaying", hub.ServeWS).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[StatusAPI] listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("[StatusAPI] stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a valid control token in the Authorization header.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			http.Error(w, "Control is disabled", http.StatusServiceUnavailable)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseToken(s.secret, parts[1])
		if err != nil {
			s.log.Info("[StatusAPI] rejected control token",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		http.Error(w, "Queue is disabled", http.StatusNotFound)
		return
	}

	tracks := s.queue.Snapshot()
	entries := make([]queueEntry, 0, len(tracks))
	for i, t := range tracks {
		entries = append(entries, queueEntry{
			Position:  i + 1,
			Artist:    t.Artist,
			Title:     t.Title,
			Length:    t.Length,
			Requester: t.Requester,
			Source:    t.Source,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		records []model.RequestRecord
		err     error
	)
	if nick := r.URL.Query().Get("requester"); nick != "" {
		records, err = s.history.ByRequester(r.Context(), nick, limit)
	} else {
		records, err = s.history.Recent(r.Context(), limit)
	}
	if err != nil {
		s.log.Error("[StatusAPI] failed to list history", zap.Error(err))
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	requester := "http"
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok && claims.Subject != "" {
		requester = claims.Subject
	}

	req := model.NewSkipRequest(uuid.NewString(), requester, r.RemoteAddr)
	select {
	case s.requests <- req:
	case <-r.Context().Done():
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}

	s.log.Info("[StatusAPI] skip submitted",
		zap.String("id", req.ID),
		zap.String("requester", requester))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID, "status": "skip submitted"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

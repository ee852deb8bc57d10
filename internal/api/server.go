package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/metrics"
	"github.com/mgoodale/webscout/internal/orchestrator"
	"github.com/mgoodale/webscout/internal/research"
	"github.com/mgoodale/webscout/internal/scratchpad"
)

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	jobs   research.JobStore
	users  research.UserStore
	pads   research.ScratchpadStore
	index  research.VectorIndex
	clock  research.Clock
	ids    research.IDGenerator
	logger *zap.Logger

	// Scratchpad services are cached per (user, session) so the
	// in-process operation history survives across requests. The cache
	// is capped; the least recently used session falls out first.
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionCacheSize caps the scratchpad-service cache. Session IDs are
// caller-chosen, so without a cap the cache grows with every new ID.
const sessionCacheSize = 256

type sessionEntry struct {
	svc      *scratchpad.Service
	lastUsed time.Time
}

// Deps collects the server's collaborators.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Jobs         research.JobStore
	Users        research.UserStore
	Scratch      research.ScratchpadStore
	Index        research.VectorIndex
	Clock        research.Clock
	IDs          research.IDGenerator
	Logger       *zap.Logger
	Timeout      time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 60 * time.Second
	}
	s := &Server{
		orch:     deps.Orchestrator,
		jobs:     deps.Jobs,
		users:    deps.Users,
		pads:     deps.Scratch,
		index:    deps.Index,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
		sessions: make(map[string]*sessionEntry),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(deps.Timeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/scraper", func(r chi.Router) {
			r.Post("/scrape", s.submitScrape)
			r.Post("/batch", s.submitBatch)
			r.Post("/map", s.submitMap)
			r.Post("/search-extract", s.submitSearchExtract)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/results", s.getJobResults)
				r.Get("/provider-status", s.getProviderStatus)
				r.Delete("/", s.deleteJob)
			})
		})

		r.Route("/scratchpad", func(r chi.Router) {
			r.Post("/", s.saveScratchpad)
			r.Get("/", s.listScratchpadKeys)
			r.Post("/search", s.searchScratchpad)
			r.Get("/session", s.sessionScratchpad)
			r.Delete("/session/clear", s.clearScratchpadSession)
			r.Get("/history", s.scratchpadHistory)
			r.Get("/source/{source}", s.scratchpadBySource)
			r.Get("/{key}", s.getScratchpad)
			r.Delete("/{key}", s.deleteScratchpad)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type userContextKey struct{}

// authMiddleware resolves the X-API-Key header to an account. Every
// /v1 route requires a valid key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		user, err := s.users.GetUserByAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, research.ErrNotFound) {
				writeError(w, http.StatusForbidden, "unknown API key")
				return
			}
			writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		if !user.Active {
			writeError(w, http.StatusForbidden, "account is inactive")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) *research.User {
	user, _ := r.Context().Value(userContextKey{}).(*research.User)
	return user
}

// scratchpadFor returns the cached scratchpad service for the request's
// user and session. The session comes from the X-Session-ID header and
// defaults to a per-user "api" session.
func (s *Server) scratchpadFor(r *http.Request) *scratchpad.Service {
	user := requestUser(r)
	session := r.Header.Get("X-Session-ID")
	if session == "" {
		session = "api-" + user.ID
	}
	cacheKey := user.ID + "\x00" + session

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[cacheKey]; ok {
		e.lastUsed = s.clock.Now()
		return e.svc
	}
	if len(s.sessions) >= sessionCacheSize {
		s.evictOldestSession()
	}
	svc := scratchpad.NewService(s.pads, s.index, s.clock, s.ids, s.logger, user.ID, session)
	s.sessions[cacheKey] = &sessionEntry{svc: svc, lastUsed: s.clock.Now()}
	return svc
}

// evictOldestSession drops the least recently used cached scratchpad.
// Callers hold s.mu.
func (s *Server) evictOldestSession() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range s.sessions {
		if oldestKey == "" || e.lastUsed.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(s.sessions, oldestKey)
	}
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.ids.NewID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

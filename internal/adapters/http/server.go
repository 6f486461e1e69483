package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/dwsm/internal/logging"
	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions is the slice of the session coordinator the HTTP layer relies on.
type Sessions interface {
	NewSession(ctx context.Context) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, s *domain.Session) error
	Persist(ctx context.Context, s *domain.Session) error
	Invalidate(ctx context.Context, s *domain.Session) error
}

// Server exposes session lifecycle operations over HTTP.
type Server struct {
	Sessions Sessions

	cookie   CookieOptions
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithCookie sets how the session cookie is issued.
func WithCookie(opts CookieOptions) Option {
	return func(s *Server) {
		s.cookie = opts
	}
}

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger configures request error logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock replaces time.Now when judging expiry. It should match the coordinator's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewHandler creates the HTTP handler for the coordinator.
func NewHandler(sessions Sessions, opts ...Option) http.Handler {
	s := &Server{
		Sessions: sessions,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cookie = s.cookie.normalize()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.Get)
			r.Delete("/", s.Delete)
			r.Post("/touch", s.TouchSession)
			r.Put("/attributes/{key}", s.SetAttribute)
			r.Delete("/attributes/{key}", s.RemoveAttribute)
		})
	})

	// Cookie-bound view of the caller's own session.
	r.With(SessionMiddleware(sessions, s.cookie, true, s.logger)).Get("/session", s.Current)

	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Create handles POST /sessions.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.NewSession(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Sessions.Persist(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	SetCookie(w, sess, s.cookie)
	writeJSON(w, http.StatusCreated, sess.MetaData())
}

// Get handles GET /sessions/{id}.
func (s *Server) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupLive(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.MetaData())
}

// TouchSession handles POST /sessions/{id}/touch.
func (s *Server) TouchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Sessions.Touch(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.MetaData())
}

// Delete handles DELETE /sessions/{id}. Deleting an unknown session succeeds.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess != nil {
		if err := s.Sessions.Invalidate(r.Context(), sess); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAttribute handles PUT /sessions/{id}/attributes/{key}. The body is the raw value.
func (s *Server) SetAttribute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupLive(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sess.SetAttribute(chi.URLParam(r, "key"), string(value))
	if err := s.Sessions.Persist(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.MetaData())
}

// RemoveAttribute handles DELETE /sessions/{id}/attributes/{key}.
func (s *Server) RemoveAttribute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupLive(w, r)
	if !ok {
		return
	}
	sess.RemoveAttribute(chi.URLParam(r, "key"))
	if err := s.Sessions.Persist(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.MetaData())
}

// Current handles GET /session for the session bound to the request cookie.
func (s *Server) Current(w http.ResponseWriter, r *http.Request) {
	sess, ok := FromContext(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, sess.MetaData())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sess, err := s.Sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// lookupLive is lookup that also rejects invalidated or expired sessions with 410.
// Touch does not use it: recording the access is what removes an expired session.
func (s *Server) lookupLive(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	if !sess.IsValid() || sess.Expired(s.now()) {
		http.Error(w, domain.ErrSessionInvalid.Error(), http.StatusGone)
		return nil, false
	}
	return sess, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionInvalid):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrGeneratorStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

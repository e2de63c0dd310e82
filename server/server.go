// Package server exposes the tokenization engine over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/sweetpotato0/chai-tokenizer/catalog"
	"github.com/sweetpotato0/chai-tokenizer/clipboard"
	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/session"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

// Server serves one-shot tokenization and long-lived sessions.
type Server struct {
	provider tokenizer.Provider
	sessions *session.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	limiter  *rateLimiter
	// defaultModel is used when a request names no model
	defaultModel string
	idleTimeout  time.Duration
	// sessionOpts apply to every session the server creates
	sessionOpts []session.Option
}

// Option is a function that configures a Server.
type Option func(*Server)

// WithMetrics records request and engine metrics and serves them on /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit caps each client IP at rps requests per second on /v1
// routes, with bursts up to burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newRateLimiter(rps, burst)
		} else {
			s.limiter = nil
		}
	}
}

// WithSessionIdleTimeout closes sessions no request has touched for d.
// A non-positive d keeps sessions until they are deleted.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(s *Server) {
		if model != "" {
			s.defaultModel = model
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionOptions sets options applied to every session the server creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// New creates a server resolving tokenizers through provider.
func New(provider tokenizer.Provider, opts ...Option) *Server {
	s := &Server{
		provider:     provider,
		logger:       logging.WithComponent("server"),
		defaultModel: catalog.Default,
	}
	for _, opt := range opts {
		opt(s)
	}

	base := []session.Option{
		// the host clipboard is never touched by a server
		session.WithClipboard(&clipboard.Memory{}),
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	}
	s.sessionOpts = append(base, s.sessionOpts...)
	s.sessions = session.NewManager(provider,
		session.WithManagerLogger(s.logger),
		session.WithSessionOptions(s.sessionOpts...),
	)
	return s
}

// Sessions returns the live session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Register mounts all routes on e.
func (s *Server) Register(e *echo.Echo) {
	var mw []echo.MiddlewareFunc
	if s.limiter != nil {
		mw = append(mw, s.limiter.middleware())
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels, mw...)
	e.POST("/v1/tokenize", s.handleTokenize, mw...)

	e.POST("/v1/sessions", s.handleCreateSession, mw...)
	e.GET("/v1/sessions/:id", s.handleGetSession, mw...)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession, mw...)
	e.PUT("/v1/sessions/:id/input", s.handleSetInput, mw...)
	e.PUT("/v1/sessions/:id/model", s.handleSetModel, mw...)
	e.PUT("/v1/sessions/:id/mode", s.handleSetMode, mw...)
	e.PUT("/v1/sessions/:id/display", s.handleSetDisplay, mw...)
	e.POST("/v1/sessions/:id/copy", s.handleCopy, mw...)

	if s.metrics != nil {
		h := s.metrics.Handler()
		e.GET("/metrics", func(c *echo.Context) error {
			h.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

// Handler builds the full HTTP handler: echo with logging and recovery,
// wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	s.Register(e)
	return s.instrument(e)
}

// Start serves on addr until ctx is cancelled, then closes every session.
func (s *Server) Start(ctx context.Context, addr string, readTimeout time.Duration) error {
	defer s.sessions.CloseAll()

	if s.idleTimeout > 0 {
		reapCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.reapIdle(reapCtx)
	}

	s.logger.Info("starting server", "address", addr)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = readTimeout
			return nil
		},
	}
	err := sc.Start(ctx, s.Handler())
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// reapIdle closes idle sessions until ctx is done.
func (s *Server) reapIdle(ctx context.Context) {
	interval := s.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sessions.Reap(s.idleTimeout)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rec.status)
	})
}

// routeLabel collapses session ids so the path label stays bounded.
func routeLabel(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/models", "/v1/tokenize", "/v1/sessions":
		return path
	}
	rest, ok := strings.CutPrefix(path, "/v1/sessions/")
	if !ok || rest == "" {
		return "other"
	}
	id, action, found := strings.Cut(rest, "/")
	if id == "" {
		return "other"
	}
	if !found {
		return "/v1/sessions/:id"
	}
	if _, known := sessionActions[action]; known {
		return "/v1/sessions/:id/" + action
	}
	return "other"
}

var sessionActions = map[string]struct{}{
	"input":   {},
	"model":   {},
	"mode":    {},
	"display": {},
	"copy":    {},
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(c *echo.Context, err error) error {
	status := statusFor(err)
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: err.Error(),
			Code:    strconv.Itoa(status),
		},
	})
}

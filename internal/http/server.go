// Package http exposes the recurring processor over a small JSON API.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/middleware/ratelimit"
	"moneta/internal/middleware/trace"
	"moneta/internal/storage"
)

// Processor runs one recurring pass.
type Processor interface {
	ProcessDueRecurrences(ctx context.Context, asOf time.Time) (core.RunSummary, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, asOf time.Time) (core.RunSummary, error)

func (f ProcessorFunc) ProcessDueRecurrences(ctx context.Context, asOf time.Time) (core.RunSummary, error) {
	return f(ctx, asOf)
}

// Store reads and creates recurring templates and lists generated transactions.
type Store interface {
	ListActiveRecurring(ctx context.Context) ([]core.Template, error)
	CreateTemplate(ctx context.Context, t core.Template) (core.Template, error)
	ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]core.Transaction, error)
}

type Server struct {
	http.Server
	processor Processor
	store     Store
	limiter   *ratelimit.Limiter
	ready     func(context.Context) error
	lastRun   func() core.RunSummary

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithReadiness sets the check behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithLastRun serves the summary returned by last on /api/recurring/last-run.
func WithLastRun(last func() core.RunSummary) Option {
	return func(s *Server) { s.lastRun = last }
}

// WithTriggerLimit limits manual process calls per client and minute.
func WithTriggerLimit(perMinute int) Option {
	return func(s *Server) {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: perMinute})
	}
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, processor Processor, store Store, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		processor: processor,
		store:     store,
	}
	for _, opt := range opts {
		opt(s)
	}

	var trigger http.Handler = http.HandlerFunc(s.handleProcess)
	if s.limiter != nil {
		trigger = s.limiter.Middleware(clientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "too many process requests")
		})(trigger)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/recurring/process", trigger)
	mux.HandleFunc("GET /api/recurring", s.handleListTemplates)
	mux.HandleFunc("POST /api/recurring", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/recurring/last-run", s.handleLastRun)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	s.Handler = log.Middleware(logger)(
		trace.Middleware(
			log.RequestIDMiddleware(trace.FromRequest)(
				log.AccessLog(withAPIHeaders(mux)))))

	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func withAPIHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

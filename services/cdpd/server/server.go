// Package server exposes the cdpd service over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablecdp/observability"
	"stablecdp/services/cdpd/service"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	RequestTimeout time.Duration
	RateLimit      RateLimit
	TLS            TLSConfig
}

// TLSConfig describes listener TLS. Config carries the client CA pool when
// mTLS is enabled.
type TLSConfig struct {
	Disabled bool
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts the public CDP API, the admin API and health endpoints.
type Server struct {
	cfg     Config
	svc     *service.Service
	health  Pinger
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	router  http.Handler
}

// New constructs the server. auth may be nil, in which case admin endpoints
// are unavailable.
func New(cfg Config, svc *service.Service, health Pinger, logger *slog.Logger, auth *Authenticator) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		health:  health,
		logger:  logger,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Use(chimw.Timeout(s.cfg.RequestTimeout))
		api.Route("/v1", func(v1 chi.Router) {
			v1.Post("/cdps", s.handleCreate)
			v1.Post("/cdps/batch", s.handleCreateBatch)
			v1.Get("/cdps/{id}", s.handleGet)
			v1.Get("/cdps/{id}/liquidations", s.handleLiquidations)
			v1.Post("/cdps/{id}/reprice", s.handleReprice)
			v1.Post("/cdps/{id}/liquidate", s.handleLiquidate)
			v1.Post("/cdps/{id}/{operation}", s.handleMutate)
			v1.Get("/owners/{owner}/cdps", s.handleList)
			v1.Get("/owners/{owner}/portfolio", s.handlePortfolio)
			v1.Get("/owners/{owner}/stress", s.handleStress)
			v1.Get("/estimate/max-debt", s.handleEstimateMaxDebt)
			v1.Get("/estimate/min-collateral", s.handleEstimateMinCollateral)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.requireAdmin)
		admin.Get("/shutdown", s.handleShutdownStatus)
		admin.Post("/shutdown", s.handleShutdown)
	})

	return otelhttp.NewHandler(r, "cdpd.http")
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		TLSConfig:         s.cfg.TLS.Config,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("cdpd http server listening", "addr", s.cfg.ListenAddress, "tls", !s.cfg.TLS.Disabled)
		var err error
		if s.cfg.TLS.Disabled {
			err = srv.ListenAndServe()
		} else {
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "admin authentication not configured")
		})
	}
	return s.auth.Middleware(next)
}

// requestID propagates X-Request-ID or assigns a fresh UUID, storing it where
// chi's middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(chimw.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		duration := time.Since(start)
		observability.ModuleMetrics().Observe(route, r.Method, status, duration)
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"request_id", chimw.GetReqID(r.Context()),
			"route", route,
			"method", r.Method,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "shutdown": s.svc.Shutdown().Engaged})
}

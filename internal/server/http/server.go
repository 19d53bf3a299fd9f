// Package http exposes talking-head generation over HTTP.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekisa-team/talkinghead/internal/config"
	"github.com/ekisa-team/talkinghead/internal/service"
)

const (
	apiTitle   = "Talking Head API"
	apiVersion = "1.0.0"

	generatePath = "/generate-talking-head"

	// drainTimeout bounds the wait for handlers after their contexts are
	// canceled. It covers the executor's TERM to KILL grace period.
	drainTimeout = 15 * time.Second
)

// Deps are the services the router exposes.
type Deps struct {
	Generator Generator
	Health    HealthReporter
	// OnHealth is called with every report served by /health.
	OnHealth func(service.HealthReport)
}

// NewRouter builds the chi router with the huma API mounted on it.
func NewRouter(cfg config.ServerConfig, deps Deps) (http.Handler, huma.API) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics())
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(RateLimit(RateLimitConfig{
		RequestLimit: cfg.RateLimit.Requests,
		WindowSize:   cfg.RateLimit.Window,
		Paths:        []string{generatePath},
	}))

	r.Handle("/metrics", promhttp.Handler())

	api := humachi.New(r, huma.DefaultConfig(apiTitle, apiVersion))

	NewTalkingHeadHandler(api, deps.Generator, deps.Health, Limits{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		BodyReadTimeout: cfg.BodyReadTimeout,
	}, deps.OnHealth)

	return r, api
}

// Server is an http.Server whose request contexts are canceled when a
// graceful shutdown runs out of time.
type Server struct {
	*http.Server

	cancel   context.CancelFunc
	inflight sync.WaitGroup
	drain    time.Duration
}

// NewServer creates the HTTP server. writeTimeout must cover the longest generation.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{cancel: cancel, drain: drainTimeout}
	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.track(handler),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	return s
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops accepting connections and waits for in-flight requests until
// ctx is done. Requests still running then have their contexts canceled, so
// tool processes are killed and workspaces removed before Shutdown returns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.cancel()
	if err == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.drain)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
	return err
}

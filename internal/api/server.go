package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/burnbox/burnbox/internal/ratelimit"
	"github.com/burnbox/burnbox/internal/secret"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	// Per-IP flood protection for the whole surface.
	RequestsPerSec int
	Burst          int
}

// Server is the HTTP front of the secret store engine.
type Server struct {
	engine  *secret.Engine
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a Server around an already-wired engine.
func NewServer(engine *secret.Engine, cfg Config) *Server {
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 100
	}
	if cfg.Burst == 0 {
		cfg.Burst = 200
	}
	return &Server{engine: engine, cfg: cfg}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(fingerprintMiddleware)
	r.Use(metricsMiddleware)
	r.Use(logMiddleware)
	r.Use(ipLimitMiddleware(ratelimit.NewTokenBucket(float64(s.cfg.RequestsPerSec), s.cfg.Burst)))

	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	// Recipient-facing surface, keyed by the share identifier.
	r.Post("/v1/secrets", s.CreateHandler)
	r.Post("/v1/secrets/{shareID}/reveal", s.RevealHandler)
	r.Post("/v1/secrets/{shareID}/confirm", s.ConfirmHandler)

	// Creator-facing surface, keyed by the admin identifier.
	r.Get("/v1/private/{adminID}", s.StatusHandler)
	r.Delete("/v1/private/{adminID}", s.BurnHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Package web provides the HTTP server, JSON API and operator pages for
// import reconciliation.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/Reconcile/internal/config"
	"github.com/JonMunkholm/Reconcile/internal/core"
	mw "github.com/JonMunkholm/Reconcile/internal/web/middleware"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and fields.
const multipartOverhead = 1 << 20

// Server is the HTTP server for the import service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	// heartbeat is the SSE keep-alive interval.
	heartbeat time.Duration
}

// NewServer creates a Server. ctx bounds background helpers such as the
// rate limiter cleanup.
func NewServer(ctx context.Context, service *core.Service, cfg *config.Config) (*Server, error) {
	owners, err := cfg.Security.KeyOwners()
	if err != nil {
		return nil, err
	}

	s := &Server{
		service:   service,
		cfg:       cfg,
		router:    chi.NewRouter(),
		heartbeat: 15 * time.Second,
	}
	s.setupMiddleware(owners)
	s.setupRoutes(ctx)
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(owners map[string]string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	if s.cfg.Security.EnableCSP {
		s.router.Use(securityHeaders)
	}
	s.router.Use(mw.APIKeyAuth(owners, s.cfg.Security.RequireAPIKey))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(ctx context.Context) {
	s.router.Get("/healthz", s.handleHealth)

	general := func(next http.Handler) http.Handler { return next }
	upload := general
	if s.cfg.Rate.Enabled {
		general = mw.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute).Middleware
		if s.cfg.Rate.UploadLimit > 0 {
			upload = mw.NewRateLimiter(ctx, s.cfg.Rate.UploadLimit, time.Minute).Middleware
		}
	}

	// Event streams are long-lived and skip the request timeout.
	s.router.With(general).Get("/api/imports/{importID}/events", s.handleEvents)

	s.router.Group(func(r chi.Router) {
		r.Use(general)
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}

		// Pages
		r.Get("/", s.handleDashboard)
		r.With(upload).Post("/start", s.handleStartForm)
		r.Post("/respond", s.handleRespondForm)
		r.Post("/pause", s.handlePauseForm)
		r.Post("/resume", s.handleResumeForm)
		r.Post("/cancel", s.handleCancelForm)

		r.Route("/api", func(r chi.Router) {
			// Flavors and templates
			r.Get("/flavors", s.handleListFlavors)
			r.Get("/flavors/{flavor}/template", s.handleDownloadTemplate)

			// Owner session commands
			r.With(upload).Post("/imports/{flavor}", s.handleStart)
			r.With(upload).Post("/check/{flavor}", s.handleCheck)
			r.Get("/status", s.handleStatus)
			r.Get("/prompt", s.handlePrompt)
			r.Post("/respond", s.handleRespond)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)

			// Session queries
			r.Get("/imports/{importID}", s.handleSession)
			r.Get("/imports/{importID}/items", s.handleItems)
			r.Get("/imports/{importID}/audit", s.handleAudit)
			r.Post("/imports/{importID}/retry", s.handleRetryGroup)

			r.Get("/limiter", s.handleLimiterStatus)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

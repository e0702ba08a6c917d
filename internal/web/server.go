package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Server is the claimdesk HTTP API.
type Server struct {
	httpServer *http.Server
	sessions   *session.Registry
	logger     *slog.Logger
}

// NewServer creates the HTTP server with routes and middleware.
func NewServer(deps *ops.Deps, sessions *session.Registry, version string) *Server {
	h := NewHandlers(deps, sessions, version)

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(deps.Cfg.Bind, strconv.Itoa(deps.Cfg.Port)),
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
		sessions: sessions,
		logger:   deps.Logger,
	}
}

// NewRouter builds the route table. Split out so tests can drive it with httptest.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.logger))
	r.Use(MetricsMiddleware())
	r.Use(securityHeaders)

	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/claims", func(r chi.Router) {
		r.Get("/", h.HandleListClaims)
		r.Post("/", h.HandleCreateClaim)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetClaim)

			r.Get("/files", h.HandleListFiles)
			r.Post("/files", h.HandleUploadFile)
			r.Get("/files/{fileId}", h.HandleGetFile)
			r.Get("/files/{fileId}/download", h.HandleDownloadFile)
			r.Delete("/files/{fileId}", h.HandleDeleteFile)

			r.Get("/artifacts", h.HandleListArtifacts)
			r.Get("/artifacts/{artifactId}", h.HandleGetArtifact)
			r.Put("/artifacts/{artifactId}", h.HandleUpdateArtifact)
			r.Get("/artifacts/{artifactId}/history", h.HandleArtifactHistory)
			r.Get("/artifacts/{artifactId}/preview", h.HandleArtifactPreview)

			r.Post("/agent/chat", h.HandleChat)
			r.Post("/agent/generate-summary", h.HandleGenerateSummary)
			r.Post("/agent/accept", h.HandleAccept)

			r.Post("/sessions", h.HandleCreateSession)
		})
	})

	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", h.HandleGetSession)
		r.Delete("/", h.HandleDeleteSession)
		r.Post("/messages", h.HandleSessionMessage)
		r.Post("/summary", h.HandleSessionSummary)
		r.Post("/proposals/{token}/accept", h.HandleSessionAccept)
		r.Post("/proposals/{token}/discard", h.HandleSessionDiscard)
	})

	return r
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts down
// gracefully and closes every open session.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("claimdesk API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if strings.HasPrefix(s.httpServer.Addr, "0.0.0.0") || strings.HasPrefix(s.httpServer.Addr, "[::]") || strings.HasPrefix(s.httpServer.Addr, ":") {
		s.logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.sessions != nil {
		s.sessions.CloseAll()
	}
	if err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

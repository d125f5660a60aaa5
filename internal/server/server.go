package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/api"
	"github.com/drallgood/weread-shelf-sync/internal/auth"
	"github.com/drallgood/weread-shelf-sync/internal/config"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	server          *http.Server
	health          HealthChecker
	shutdownTimeout time.Duration
	logger          *logger.Logger
}

// New creates the HTTP server with every API route mounted.
func New(cfg *config.Config, handler *api.Handler, authMiddleware *auth.Middleware, health HealthChecker, log *logger.Logger) *Server {
	s := &Server{
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		health:          health,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		logger:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthCheck)
	handler.Register(mux, authMiddleware.RequireAuth)
	mux.HandleFunc("/", handleNotFound)

	// Middleware chain: request id -> logger -> CORS
	var finalHandler http.Handler = mux
	finalHandler = CORSMiddleware(cfg.Server.CORSOrigins)(finalHandler)
	finalHandler = logger.HTTPMiddleware(finalHandler)
	finalHandler = logger.RequestID(finalHandler)
	s.server.Handler = finalHandler

	return s
}

// Handler exposes the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, bounded by the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	body := map[string]string{}
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("Health check failed", map[string]interface{}{
				"error": err.Error(),
			})
			status, code = "degraded", http.StatusServiceUnavailable
			body["database"] = "unreachable"
		}
	}
	body["status"] = status

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(api.APIResponse{Message: "Not found", Error: api.CodeNotFound})
}

// CORSMiddleware allows the configured origins. A "*" entry allows any
// origin, but credentials are then not advertised.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				switch {
				case ok && origin != "*":
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				case wildcard:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

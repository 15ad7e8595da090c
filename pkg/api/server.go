package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/logstream"
	"github.com/minicloud/minicloud/pkg/manager"
	"github.com/minicloud/minicloud/pkg/metrics"
	"github.com/minicloud/minicloud/pkg/stats"
)

// Config holds API server configuration
type Config struct {
	Manager *manager.Manager
	Hub     *logstream.Hub
	Stats   *stats.Sampler

	ListenAddr       string
	CORSOrigins      []string
	ResourceInterval time.Duration
}

// Server serves the HTTP and websocket surface of the control plane.
// All task state lives behind the manager; the server only translates
// requests and maps core errors onto status codes.
type Server struct {
	mgr      *manager.Manager
	hub      *logstream.Hub
	stats    *stats.Sampler
	interval time.Duration

	http     *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates an API server
func NewServer(cfg *Config) *Server {
	interval := cfg.ResourceInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	s := &Server{
		mgr:      cfg.Manager,
		hub:      cfg.Hub,
		stats:    cfg.Stats,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Token auth is the access control; origin checks add
			// nothing for non-browser clients.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("api"),
	}

	corsOpts := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	router := s.routes()
	handler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(&recoveryLogger{logger: s.logger}),
	)(corsOpts.Handler(s.accessLog(router)))

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	// Unauthenticated surface
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	// Everything else requires a bearer token
	auth := r.NewRoute().Subrouter()
	auth.Use(s.authenticate)

	auth.HandleFunc("/compute/start", s.handleStartCompute).Methods(http.MethodPost)
	auth.HandleFunc("/compute/tasks", s.handleListTasks).Methods(http.MethodGet)
	auth.HandleFunc("/compute/{task_id}/files", s.handleListFiles).Methods(http.MethodGet)
	auth.HandleFunc("/compute/{task_id}/download", s.handleDownload).Methods(http.MethodGet)
	auth.HandleFunc("/compute/{task_id}/tree", s.handleTree).Methods(http.MethodGet)
	auth.HandleFunc("/compute/{task_id}/stop", s.handleStopTask).Methods(http.MethodPost)
	auth.HandleFunc("/compute/{task_id}", s.handleDeleteTask).Methods(http.MethodDelete)

	auth.HandleFunc("/status/task/{task_id}", s.handleGetTask).Methods(http.MethodGet)
	auth.HandleFunc("/status/tasks", s.handleListTasks).Methods(http.MethodGet)
	auth.HandleFunc("/status/logs/{task_id}", s.handleLogs).Methods(http.MethodGet)

	auth.HandleFunc("/pages/static", s.handleCreateStaticPage).Methods(http.MethodPost)

	auth.HandleFunc("/status/ws/logs/{task_id}", s.handleLogStream).Methods(http.MethodGet)
	auth.HandleFunc("/status/ws/resource_status", s.handleResourceStream).Methods(http.MethodGet)

	return r
}

// Start begins serving and blocks until the listener closes
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recoveryLogger adapts zerolog to the recovery middleware's Println
// interface
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l *recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}

// Package web provides the HTTP API server for the workflow engine.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/arctek/taskflow"
	"github.com/arctek/taskflow/workflow"
)

// Server is the workflow API server.
type Server struct {
	engine *taskflow.Engine
	store  workflow.Store
	sweeps *taskflow.SweepManager
	logger *slog.Logger
	server *http.Server
}

// NewServer creates an API server over the engine. sweeps may be nil when
// background sweeps are not running.
func NewServer(engine *taskflow.Engine, sweeps *taskflow.SweepManager, logger *slog.Logger) *Server {
	return &Server{
		engine: engine,
		store:  engine.Store(),
		sweeps: sweeps,
		logger: logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	// Board and stats
	mux.HandleFunc("GET /api/board", s.apiGetBoard)
	mux.HandleFunc("GET /api/stats", s.apiGetStats)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.apiGetTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.apiGetTask)
	mux.HandleFunc("POST /api/tasks", s.apiCreateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.apiDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.apiUpdateStatus)
	mux.HandleFunc("GET /api/tasks/{id}/description", s.apiRenderDescription)

	// Dependency graph
	mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.apiAddDependency)
	mux.HandleFunc("DELETE /api/tasks/{id}/dependencies/{blockerID}", s.apiRemoveDependency)
	mux.HandleFunc("GET /api/tasks/{id}/dependencies", s.apiGetDependencies)
	mux.HandleFunc("GET /api/tasks/{id}/dependents", s.apiGetDependents)
	mux.HandleFunc("GET /api/tasks/{id}/critical-path", s.apiGetCriticalPath)

	// Assignment
	mux.HandleFunc("POST /api/tasks/{id}/assign", s.apiAssign)
	mux.HandleFunc("POST /api/tasks/{id}/smart-assign", s.apiSmartAssign)
	mux.HandleFunc("POST /api/backlog/auto-assign", s.apiAutoAssignBacklog)

	// Comment threads
	mux.HandleFunc("POST /api/tasks/{id}/comments", s.apiPostComment)
	mux.HandleFunc("GET /api/tasks/{id}/comments", s.apiGetComments)

	// Activity log
	mux.HandleFunc("GET /api/tasks/{id}/activity", s.apiGetTaskActivity)
	mux.HandleFunc("GET /api/activity", s.apiGetRecentActivity)

	// Epics
	mux.HandleFunc("GET /api/epics", s.apiGetEpics)
	mux.HandleFunc("GET /api/epics/{id}", s.apiGetEpic)
	mux.HandleFunc("POST /api/epics", s.apiCreateEpic)
	mux.HandleFunc("DELETE /api/epics/{id}", s.apiDeleteEpic)
	mux.HandleFunc("POST /api/tasks/{id}/epic", s.apiSetTaskEpic)

	// Agent roster
	mux.HandleFunc("GET /api/agents", s.apiGetAgents)
	mux.HandleFunc("POST /api/agents", s.apiCreateAgent)

	// Notifications
	mux.HandleFunc("GET /api/notifications", s.apiGetNotifications)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.apiMarkNotificationRead)

	// Data migrations and sweep status
	mux.HandleFunc("POST /api/migrations/run", s.apiRunMigrations)
	mux.HandleFunc("GET /api/sweeps", s.apiGetSweeps)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withLogging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging wraps a handler with request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

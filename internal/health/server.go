// Package health serves the operational endpoints used by process
// supervisors: liveness with dependency checks, and pipeline status.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/inbox-triage/internal/escalation"
	triagesync "github.com/nhle/inbox-triage/internal/sync"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// SyncStatuses exposes per-account sync state.
type SyncStatuses interface {
	Statuses() []triagesync.SyncStatus
}

// SweepStatus exposes the last escalation sweep.
type SweepStatus interface {
	LastResult() (escalation.SweepResult, bool)
}

// QueueDepth exposes the analysis backlog held in memory.
type QueueDepth interface {
	Pending() int
}

// Deps are the sources the endpoints read from. Nil sources are omitted
// from the status output.
type Deps struct {
	Checks map[string]Check
	Sync   SyncStatuses
	Sweep  SweepStatus
	Queue  QueueDepth
}

// Server is the ops HTTP server.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	deps   Deps
	logger *slog.Logger
}

const checkTimeout = 3 * time.Second

// NewServer builds the router. Call ListenAndServe to start it.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		deps:   deps,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/status", s.status)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until Shutdown. It never returns
// http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	s.logger.Info("ops endpoint listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving ops endpoint: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// healthz handles GET /healthz.
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	results := make(map[string]string, len(s.deps.Checks))
	healthy := true
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			results[name] = err.Error()
			s.logger.Warn("health check failed", "check", name, "error", err)
			continue
		}
		results[name] = "ok"
	}

	code, state := http.StatusOK, "healthy"
	if !healthy {
		code, state = http.StatusServiceUnavailable, "unhealthy"
	}
	c.JSON(code, gin.H{"status": state, "checks": results})
}

// status handles GET /status.
func (s *Server) status(c *gin.Context) {
	body := gin.H{}
	if s.deps.Sync != nil {
		body["accounts"] = s.deps.Sync.Statuses()
	}
	if s.deps.Sweep != nil {
		if last, ok := s.deps.Sweep.LastResult(); ok {
			body["last_sweep"] = last
		}
	}
	if s.deps.Queue != nil {
		body["analysis_queue"] = s.deps.Queue.Pending()
	}
	c.JSON(http.StatusOK, body)
}

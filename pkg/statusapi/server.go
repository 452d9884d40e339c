// Package statusapi serves run history and live run events over HTTP:
// a small read-only API over the sqlite store and the run directories,
// plus an SSE stream off the in-process event bus.
package statusapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"webloop/internal/utils"
	"webloop/pkg/database"
	"webloop/pkg/events"
	"webloop/pkg/trace"
)

const sseHeartbeat = 15 * time.Second

// Server is the status API. DB and Bus are optional: endpoints backed
// by a missing collaborator answer 503.
type Server struct {
	db      database.Database
	baseDir string
	bus     *events.Bus
	logger  utils.ExtendedLogger

	engine *gin.Engine
	http   *http.Server
}

// New builds the API over the run-history database and the runs base
// directory. bus may be nil; the event stream then reports unavailable.
func New(db database.Database, baseDir string, bus *events.Bus, logger utils.ExtendedLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		db:      db,
		baseDir: baseDir,
		bus:     bus,
		logger:  logger,
		engine:  engine,
	}

	engine.GET("/health", s.handleHealth)
	api := engine.Group("/api")
	{
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.GET("/runs/:id/manifest", s.handleManifest)
		api.GET("/runs/:id/report", s.handleReport)
		api.GET("/runs/:id/trace", s.handleTrace)
		api.GET("/events/stream", s.handleEventStream)
	}
	return s
}

// Start begins serving on addr. It blocks until the listener fails or
// Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("🌐 Status API listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the underlying handler for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history database not available"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.db.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history database not available"})
		return
	}
	runID := c.Param("id")
	run, err := s.db.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s: %v", runID, err)})
		return
	}
	iterations, err := s.db.ListIterations(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "iterations": iterations})
}

func (s *Server) handleManifest(c *gin.Context) {
	s.serveRunFile(c, "manifest.json")
}

func (s *Server) handleReport(c *gin.Context) {
	s.serveRunFile(c, "report.json")
}

func (s *Server) handleTrace(c *gin.Context) {
	runDir, ok := s.runDir(c)
	if !ok {
		return
	}
	eventList, err := trace.ReadEvents(filepath.Join(runDir, "trace.jsonl"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("trace: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": eventList, "count": len(eventList)})
}

// handleEventStream streams run events as server-sent events. The
// stream carries a periodic heartbeat so proxies keep it open.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no live run in this process"})
		return
	}

	ch, unsubscribe := s.bus.Subscribe(128)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// runDir resolves the run directory for the :id parameter, refusing
// identifiers that are not a single path segment.
func (s *Server) runDir(c *gin.Context) (string, bool) {
	runID := c.Param("id")
	if runID == "" || strings.ContainsAny(runID, "/\\") || strings.Contains(runID, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return "", false
	}
	dir := filepath.Join(s.baseDir, runID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s not found", runID)})
		return "", false
	}
	return dir, true
}

func (s *Server) serveRunFile(c *gin.Context, name string) {
	runDir, ok := s.runDir(c)
	if !ok {
		return
	}
	data, err := os.ReadFile(filepath.Join(runDir, name))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s: %v", name, err)})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// Package gateway exposes the retention components over HTTP so an agent
// runtime can feed messages, request recall and inspect the scheduler.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"ctxkeep/pkg/compaction"
	"ctxkeep/pkg/config"
	"ctxkeep/pkg/cron"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/memory"
	"ctxkeep/pkg/recall"
	"ctxkeep/pkg/version"
)

// Server is the gateway HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	config     *config.Config
	logger     *logger.Logger
	store      *memory.Store
	hook       *recall.Hook
	injector   *compaction.Injector
	jobs       *cron.Manager
	startedAt  time.Time
}

// NewServer creates the gateway. jobs may be nil when no scheduler runs.
func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	store *memory.Store,
	hook *recall.Hook,
	injector *compaction.Injector,
	jobs *cron.Manager,
) *Server {
	s := &Server{
		config:    cfg,
		logger:    log,
		store:     store,
		hook:      hook,
		injector:  injector,
		jobs:      jobs,
		startedAt: time.Now(),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	e := echo.New()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/api/stats", s.handleStats)

	e.POST("/api/recall", s.handleRecall)
	e.POST("/api/search", s.handleSearch)

	e.POST("/api/messages", s.handleMessage)
	e.GET("/api/sessions/:key/state", s.handleSessionState)
	e.POST("/api/sessions/:key/inject", s.handleInject)

	e.GET("/api/jobs", s.handleJobs)
	e.POST("/api/jobs/:name/run", s.handleRunJob)

	s.echo = e
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr is the listen address from configuration.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
}

// Start starts serving in the background.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("Gateway server starting", zap.String("addr", addr))

	// http.Server directly so shutdown stays under fx control.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Gateway server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Gateway server stopping")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c *echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("Failed to read store stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read store stats"})
	}
	uptime := time.Since(s.startedAt)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"build":          version.Get(),
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"workspace":      s.config.WorkspacePath(),
		"store":          stats,
	})
}

type recallRequest struct {
	Prompt  string `json:"prompt"`
	Session string `json:"session"`
}

func (s *Server) handleRecall(c *echo.Context) error {
	var body recallRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	res, err := s.hook.ProcessPrompt(c.Request().Context(), body.Prompt, body.Session)
	if err != nil {
		// Recall never blocks the prompt; report an empty result.
		s.logger.Warn("Recall failed", zap.String("session", body.Session), zap.Error(err))
	}
	return c.JSON(http.StatusOK, res)
}

type searchRequest struct {
	Query     string   `json:"query"`
	K         int      `json:"k"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleSearch(c *echo.Context) error {
	var body searchRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if strings.TrimSpace(body.Query) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query required"})
	}
	k := body.K
	if k <= 0 {
		k = s.config.Store.SearchK
	}
	threshold := s.config.Store.Threshold
	if body.Threshold != nil {
		threshold = *body.Threshold
	}
	results, err := s.store.Search(c.Request().Context(), body.Query, k, threshold)
	if err != nil {
		s.logger.Error("Search failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "search failed"})
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleMessage(c *echo.Context) error {
	var msg compaction.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if msg.Session == "" || msg.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session and id required"})
	}
	out, err := s.injector.HandleMessage(c.Request().Context(), msg)
	if err != nil {
		s.logger.Error("Message handling failed",
			zap.String("session", msg.Session),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if out == nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadGateway, map[string]interface{}{"error": err.Error(), "outcome": out})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessionState(c *echo.Context) error {
	st, err := s.injector.SessionState(c.Request().Context(), c.Param("key"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session state"})
	}
	return c.JSON(http.StatusOK, map[string]string{"session": c.Param("key"), "state": st.String()})
}

func (s *Server) handleInject(c *echo.Context) error {
	key := c.Param("key")
	ev, brief, err := s.injector.Inject(c.Request().Context(), key, "manual")
	if err != nil {
		s.logger.Error("Manual injection failed", zap.String("session", key), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"injection": ev, "brief": brief})
}

func (s *Server) handleJobs(c *echo.Context) error {
	if s.jobs == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"jobs": []cron.JobStatus{}})
	}
	status, err := s.jobs.Status(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load job status"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": status})
}

func (s *Server) handleRunJob(c *echo.Context) error {
	if s.jobs == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "scheduler not available"})
	}
	name := c.Param("name")
	detail, err := s.jobs.RunNow(c.Request().Context(), name)
	switch {
	case errors.Is(err, cron.ErrUnknownJob):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, cron.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "detail": detail})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"job": name, "detail": detail})
}

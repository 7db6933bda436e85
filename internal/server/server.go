package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maestro/internal/config"
	"maestro/internal/engine"
	"maestro/internal/logging"
	"maestro/internal/orchestrator"
	"maestro/internal/toolregistry"
	"maestro/internal/transport"
	"maestro/internal/types"
)

// APIResponse is the uniform JSON envelope for every API endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server exposes the orchestration engine over HTTP and websocket.
type Server struct {
	cfg      config.ServerConfig
	orch     *orchestrator.Orchestrator
	engine   *engine.Engine
	hub      *transport.Hub
	registry *toolregistry.Registry
	logger   logging.Logger

	router *gin.Engine
	http   *http.Server
}

// New wires the HTTP surface. The hub's ack and disconnect handlers must be
// installed by the caller before serving.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, eng *engine.Engine, hub *transport.Hub, registry *toolregistry.Registry, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		engine:   eng,
		hub:      hub,
		registry: registry,
		logger:   logging.OrNop(logger),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.EnableCORS {
		router.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		}))
	}
	s.routes(router)
	s.router = router
	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/tasks", s.handleRegisterPlan)
		api.GET("/tasks/:user_id/summary", s.handleSummary)
		api.GET("/tasks/:user_id/state", s.handleState)
		api.GET("/tasks/:user_id/tasks/:task_id", s.handleTask)
		api.DELETE("/tasks/:user_id", s.handleTeardown)
		api.GET("/tools", s.handleTools)
		api.GET("/health", s.handleHealth)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWebsocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.cfg.Addr())
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully and closes every client session.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// handleRegisterPlan accepts a planner batch, registers it, and ensures the
// user's driver loop is live. Responds 202: execution is asynchronous.
func (s *Server) handleRegisterPlan(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, "read body: %v", err)
		return
	}
	plan, err := types.DecodeTaskPlan(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if plan.UserID == "" {
		fail(c, http.StatusBadRequest, "missing user_id")
		return
	}
	if err := s.orch.Register(plan.UserID, plan.Tasks); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if len(plan.Tasks) > 0 {
		s.engine.Start(plan.UserID)
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: gin.H{
		"user_id":    plan.UserID,
		"registered": len(plan.Tasks),
	}})
}

func (s *Server) handleSummary(c *gin.Context) {
	userID := c.Param("user_id")
	summary := s.orch.GetSummary(userID)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{
		"user_id":      userID,
		"summary":      summary,
		"success_rate": summary.SuccessRate(),
		"running":      s.engine.IsRunning(userID),
	}})
}

func (s *Server) handleState(c *gin.Context) {
	userID := c.Param("user_id")
	state, ok := s.orch.GetState(userID)
	if !ok {
		fail(c, http.StatusNotFound, "no execution state for user %s", userID)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{
		"user_id":    state.UserID,
		"updated_at": state.UpdatedAt,
		"tasks":      state.All(),
	}})
}

func (s *Server) handleTask(c *gin.Context) {
	userID := c.Param("user_id")
	taskID := c.Param("task_id")
	rec, ok := s.orch.GetTask(userID, taskID)
	if !ok {
		fail(c, http.StatusNotFound, "task %s not found for user %s", taskID, userID)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: rec})
}

// handleTeardown stops the user's driver and discards their state.
func (s *Server) handleTeardown(c *gin.Context) {
	userID := c.Param("user_id")
	s.engine.Stop(userID)
	s.orch.Cleanup(userID)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"user_id": userID}})
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"tools": s.registry.List()}})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"status": "ok"}})
}

// handleWebsocket upgrades the connection into the user's client session.
func (s *Server) handleWebsocket(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		fail(c, http.StatusBadRequest, "missing user_id query parameter")
		return
	}
	if err := s.hub.HandleUpgrade(c.Writer, c.Request, userID); err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
	}
}

func fail(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, APIResponse{Success: false, Error: fmt.Sprintf(format, args...)})
}

// Package api provides the HTTP layer: route registration, middleware,
// and server lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/api/handlers"
	"github.com/llmflow/graphrag/api/middleware"
	"github.com/llmflow/graphrag/pkg/config"
)

const shutdownTimeout = 30 * time.Second

// Server is the HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	handlers *handlers.Handlers
	router   *gin.Engine
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer wires routes and middleware around an assembled handler set.
func NewServer(cfg config.ServerConfig, h *handlers.Handlers, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		handlers: h,
		logger:   logger,
	}
	s.setupRouter()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.CORS(s.cfg.CORSOrigins))

	s.setupRoutes()
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)

	api := s.router.Group("/api/graphrag")

	api.GET("/stats", h.GlobalStats)

	extract := api.Group("/extract")
	{
		extract.POST("/all", h.Extract)
		extract.POST("/entities", h.ExtractEntities)
		extract.POST("/relationships", h.ExtractRelationships)
	}

	ingest := api.Group("/ingest")
	{
		ingest.POST("/entities", h.IngestEntities)
		ingest.POST("/relationships", h.IngestRelationships)
		ingest.POST("/document", h.IngestDocument)
		ingest.GET("/stats/:dataset_id", h.IngestStats)
		ingest.DELETE("/dataset", h.DeleteDataset)
	}

	build := api.Group("/build")
	{
		build.GET("", h.ListBuilds)
		build.POST("/start", h.StartBuild)
		build.GET("/progress/:dataset_id", h.BuildProgress)
		build.DELETE("/progress/:dataset_id", h.ClearBuildProgress)
		build.POST("/update-pages", h.UpdatePages)
	}

	api.GET("/datasets/:dataset_id/documents", h.ListDocuments)

	search := api.Group("/search")
	{
		search.POST("/", h.SearchEntities)
		search.POST("/nl-query", h.NLQueryAnswer)
		search.GET("/suggestions", h.Suggestions)
		search.GET("/entity/:entity_id/story", h.EntityStory)
		search.GET("/dataset/:dataset_id/summary", h.DatasetSummary)
	}

	visualize := api.Group("/visualize")
	{
		visualize.GET("/graph/:dataset_id", h.VisualizeGraph)
		visualize.GET("/entity/:entity_id", h.VisualizeEntity)
		visualize.GET("/stats/:dataset_id", h.VisualizeStats)
		visualize.GET("/clusters/:dataset_id", h.VisualizeClusters)
		visualize.POST("/path", h.VisualizePath)
	}

	backup := api.Group("/backup")
	{
		backup.GET("/export/:dataset_id", h.ExportDataset)
		backup.POST("/import", h.ImportDataset)
	}

	conversation := s.router.Group("/conversation")
	{
		conversation.POST("/chat", h.Chat)
		conversation.GET("/sessions", h.ListSessions)
		conversation.GET("/session/:session_id", h.GetSession)
		conversation.POST("/session/:session_id/reset", h.ResetSession)
		conversation.DELETE("/session/:session_id", h.DeleteSession)
		conversation.GET("/debug/state/:session_id", h.DebugSession)
	}

	flow := conversation.Group("/flow")
	{
		flow.GET("", h.GetFlow)
		flow.DELETE("", h.ClearFlow)
		flow.POST("/intent", h.UpsertIntent)
		flow.POST("/condition", h.UpsertCondition)
		flow.POST("/action", h.UpsertAction)
		flow.POST("/response", h.UpsertResponse)
		flow.POST("/edge", h.UpsertFlowEdge)
		flow.DELETE("/node/:node_id", h.DeleteFlowNode)
		flow.POST("/seed", h.SeedFlow)
	}
}

// Router exposes the configured engine, mostly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the server until it is stopped or fails.
func (s *Server) Start() error {
	go s.handleShutdown()

	s.logger.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Msg("starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info().Msg("shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := s.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("shutdown error")
	}
}

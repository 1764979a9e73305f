// Package httpapi serves the dispatcher, conversations and run history over
// HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/db"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/runs"
)

// Dispatcher handles ask requests and lists workflows.
type Dispatcher interface {
	Handle(ctx context.Context, req orchestrator.Request) *orchestrator.Response
	Workflows() []orchestrator.Info
}

// Deps are the server's collaborators. Only Dispatcher is required; routes
// backed by a nil dependency answer 503.
type Deps struct {
	Dispatcher    Dispatcher
	Conversations *convo.Store
	Runs          *runs.Store
	DB            *db.DB
	Metrics       http.Handler
	Logger        *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	log    *zap.Logger
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, log: log, engine: gin.New()}
	s.engine.Use(Logger(log), Recovery(log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := s.engine.Group("/api/v1")
	api.POST("/agent/ask", s.handleAsk)
	api.GET("/workflows", s.handleWorkflows)

	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)

	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)

	api.GET("/analytics/tasks", s.handleTaskStats)
	api.GET("/analytics/stages", s.handleStageFailures)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
// In-flight requests get up to shutdownTimeout to finish.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/analytics"
	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/runs"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// AskRequest is the body of POST /api/v1/agent/ask.
type AskRequest struct {
	Message        string          `json:"message"`
	ProjectID      string          `json:"project_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Task           string          `json:"task,omitempty"`
	TimeoutSeconds float64         `json:"timeout_seconds,omitempty"`
	Params         workflow.Params `json:"params"`
}

// handleAsk returns the dispatcher envelope as-is with status 200; a failed
// request is still a well-formed envelope. Only an unreadable body or an
// unknown explicit task is a 400.
func (s *Server) handleAsk(c *gin.Context) {
	var body AskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid request body", err.Error()))
		return
	}

	req := orchestrator.Request{
		Message:        body.Message,
		ProjectID:      body.ProjectID,
		ConversationID: body.ConversationID,
		Timeout:        time.Duration(body.TimeoutSeconds * float64(time.Second)),
		Params:         body.Params,
	}
	if body.Task != "" {
		v, ok := task.Parse(body.Task)
		if !ok || v == task.Unknown {
			c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid task", "unknown task "+strconv.Quote(body.Task)))
			return
		}
		req.Task = v
	}

	c.JSON(http.StatusOK, s.deps.Dispatcher.Handle(c.Request.Context(), req))
}

func (s *Server) handleWorkflows(c *gin.Context) {
	infos := s.deps.Dispatcher.Workflows()
	if infos == nil {
		infos = []orchestrator.Info{}
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"workflows": infos, "total": len(infos)}))
}

func (s *Server) handleHealth(c *gin.Context) {
	dbHealthy := true
	if s.deps.DB != nil {
		if err := s.deps.DB.Conn().PingContext(c.Request.Context()); err != nil {
			dbHealthy = false
			s.log.Error("database health check failed", zap.Error(err))
		}
	}
	status, code := "healthy", http.StatusOK
	if !dbHealthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"database":  dbHealthy,
		"workflows": len(s.deps.Dispatcher.Workflows()),
	})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, errorResponse(http.StatusServiceUnavailable, what+" not configured", ""))
}

// --- conversations ---

func (s *Server) handleListConversations(c *gin.Context) {
	if s.deps.Conversations == nil {
		unavailable(c, "conversation store")
		return
	}
	list := s.deps.Conversations.List(c.Query("project_id"))
	if list == nil {
		list = []convo.Summary{}
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"conversations": list, "total": len(list)}))
}

func (s *Server) handleGetConversation(c *gin.Context) {
	if s.deps.Conversations == nil {
		unavailable(c, "conversation store")
		return
	}
	conv, err := s.deps.Conversations.Get(c.Param("id"))
	if errors.Is(err, convo.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "conversation not found", err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "get conversation failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(conv))
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	if s.deps.Conversations == nil {
		unavailable(c, "conversation store")
		return
	}
	id := c.Param("id")
	if !s.deps.Conversations.Delete(id) {
		c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "conversation not found", id))
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"id": id, "deleted": true}))
}

// --- runs ---

func (s *Server) handleListRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "run store")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	failed, _ := strconv.ParseBool(c.DefaultQuery("failed", "false"))
	list, err := s.deps.Runs.List(runs.ListOptions{
		ProjectID: c.Query("project_id"),
		Task:      c.Query("task"),
		Failed:    failed,
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "list runs failed", err.Error()))
		return
	}
	if list == nil {
		list = []runs.Manifest{}
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"runs": list, "total": len(list)}))
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "run store")
		return
	}
	run, err := s.deps.Runs.Get(c.Param("id"))
	if errors.Is(err, runs.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "run not found", err.Error()))
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "invalid run id") {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorResponse(status, "get run failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(run))
}

// --- analytics ---

func (s *Server) handleTaskStats(c *gin.Context) {
	if s.deps.DB == nil {
		unavailable(c, "event log")
		return
	}
	stats, err := analytics.QueryTaskStats(s.deps.DB, c.Query("since"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "query task stats failed", err.Error()))
		return
	}
	if stats == nil {
		stats = []analytics.TaskStat{}
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"tasks": stats}))
}

func (s *Server) handleStageFailures(c *gin.Context) {
	if s.deps.DB == nil {
		unavailable(c, "event log")
		return
	}
	failures, err := analytics.QueryStageFailures(s.deps.DB, c.Query("since"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "query stage failures failed", err.Error()))
		return
	}
	if failures == nil {
		failures = []analytics.StageFailure{}
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"stages": failures}))
}

// handlers.go — REST API handlers。
package apiserver

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/session-bridge/internal/session"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.POST("/messages", s.postMessage)
	api.POST("/abort", s.postAbort)
	api.GET("/status", s.getStatus)

	api.GET("/transcript", s.listTranscript)
	api.GET("/transcript/search", s.searchTranscript)
	api.GET("/tool-calls", s.listToolCalls)
	api.GET("/tool-calls/:callId", s.getToolCall)

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleUpgrade(c.Writer, c.Request)
	})
	s.router.GET("/healthz", func(c *gin.Context) {
		c.String(200, "ok")
	})
}

// ========================================
// 辅助: 从 query 读分页参数 (DRY)
// ========================================

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 500 {
		return 500
	}
	return v
}

// ========================================
// 会话
// ========================================

func (s *Server) postMessage(c *gin.Context) {
	var req struct {
		Text     string   `json:"text"`
		ModeHash string   `json:"mode_hash"`
		Images   []string `json:"images"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		badRequest(c, "empty_message", "text or images required")
		return
	}
	s.queue.Push(session.UserMessage{
		Text:     req.Text,
		ModeHash: req.ModeHash,
		Images:   req.Images,
	})
	accepted(c, gin.H{"queued": s.queue.Size()})
}

func (s *Server) postAbort(c *gin.Context) {
	s.orchestrator.Abort(c.Request.Context())
	accepted(c, gin.H{"aborted": true})
}

func (s *Server) getStatus(c *gin.Context) {
	tracker := s.orchestrator.Tracker()
	success(c, gin.H{
		"state":          tracker.State().String(),
		"thread_id":      tracker.ThreadID(),
		"turn_id":        tracker.TurnID(),
		"turn_in_flight": tracker.TurnInFlight(),
		"queued":         s.queue.Size(),
		"clients":        s.hub.ClientCount(),
	})
}

// ========================================
// 转录
// ========================================

func (s *Server) listTranscript(c *gin.Context) {
	if s.stores.Transcript == nil {
		unavailable(c, "persistence disabled")
		return
	}
	threadID := c.Query("thread_id")
	if threadID == "" {
		badRequest(c, "missing_thread_id", "thread_id query param required")
		return
	}
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	items, err := s.stores.Transcript.ListByThread(c.Request.Context(),
		threadID, queryLimit(c, 100), before)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) searchTranscript(c *gin.Context) {
	if s.stores.Transcript == nil {
		unavailable(c, "persistence disabled")
		return
	}
	items, err := s.stores.Transcript.Search(c.Request.Context(),
		c.Query("thread_id"), c.Query("event_type"), c.Query("keyword"),
		queryLimit(c, 100))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

// ========================================
// 工具调用记录
// ========================================

func (s *Server) listToolCalls(c *gin.Context) {
	if s.stores.ToolCall == nil {
		unavailable(c, "persistence disabled")
		return
	}
	threadID := c.Query("thread_id")
	if threadID == "" {
		badRequest(c, "missing_thread_id", "thread_id query param required")
		return
	}
	if c.Query("open") == "true" {
		items, err := s.stores.ToolCall.ListOpenByThread(c.Request.Context(), threadID)
		if err != nil {
			serverError(c, err)
			return
		}
		success(c, items)
		return
	}
	items, err := s.stores.ToolCall.ListByThread(c.Request.Context(), threadID, queryLimit(c, 100))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) getToolCall(c *gin.Context) {
	if s.stores.ToolCall == nil {
		unavailable(c, "persistence disabled")
		return
	}
	rec, err := s.stores.ToolCall.Get(c.Request.Context(), c.Param("callId"))
	if err != nil {
		serverError(c, err)
		return
	}
	if rec == nil {
		notFound(c, "tool call not found")
		return
	}
	success(c, rec)
}

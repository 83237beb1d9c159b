// Package apiserver 面向聊天前端的 HTTP/WebSocket 服务。
//
// 上行走 REST (发消息、打断、查转录), 下行走 /ws 扇出。
package apiserver

import (
	"github.com/gin-gonic/gin"

	"github.com/multi-agent/session-bridge/internal/session"
	"github.com/multi-agent/session-bridge/internal/store"
)

// Stores 聚合持久化依赖 (持久化禁用时字段为 nil)。
type Stores struct {
	Transcript *store.TranscriptStore
	ToolCall   *store.ToolCallStore
}

// Server 桥接 HTTP 服务。
type Server struct {
	router       *gin.Engine
	hub          *Hub
	queue        *session.MessageQueue
	orchestrator *session.Orchestrator
	stores       *Stores
}

// NewServer 创建服务并注册路由。
func NewServer(hub *Hub, queue *session.MessageQueue, orchestrator *session.Orchestrator, stores *Stores) *Server {
	if stores == nil {
		stores = &Stores{}
	}
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{
		router:       r,
		hub:          hub,
		queue:        queue,
		orchestrator: orchestrator,
		stores:       stores,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 启动 HTTP 服务。
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// cmd/session-bridge — 桥接服务主入口。
//
// 一端连 coding-agent runtime (WebSocket JSON-RPC), 一端对聊天前端
// 提供 REST + /ws。Postgres 连接串为空时以无持久化模式运行。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/session-bridge/internal/apiserver"
	"github.com/multi-agent/session-bridge/internal/config"
	"github.com/multi-agent/session-bridge/internal/database"
	"github.com/multi-agent/session-bridge/internal/normalizer"
	"github.com/multi-agent/session-bridge/internal/session"
	"github.com/multi-agent/session-bridge/internal/store"
	"github.com/multi-agent/session-bridge/internal/transport"
	"github.com/multi-agent/session-bridge/pkg/logger"
	"github.com/multi-agent/session-bridge/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging disabled", logger.FieldError, err)
		} else {
			defer logger.ShutdownFileHandler()
		}
	}
	gin.SetMode(cfg.GinMode)

	// 持久化可选: 连接串为空时 stores 为 nil, API 返回 503
	var transcripts *store.TranscriptStore
	var toolCalls *store.ToolCallStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		transcripts = store.NewTranscriptStore(pool)
		toolCalls = store.NewToolCallStore(pool)
	} else {
		logger.Info("postgres connection string empty, persistence disabled")
	}

	hub := apiserver.NewHub()
	bridge := apiserver.NewBridgeTransport(hub, transcripts, toolCalls)
	queue := session.NewMessageQueue()

	// 通知回调在 runtime 连接建立后才会触发, 此处闭包捕获尚未赋值的
	// orchestrator 是安全的
	var orch *session.Orchestrator
	client := transport.NewClient(cfg.RuntimeWSURL, func(method string, payload map[string]any) {
		orch.HandleNotification(method, payload)
	})
	orch = session.NewOrchestrator(session.Deps{
		Queue:       queue,
		Runtime:     client,
		Transport:   bridge,
		Normalizer:  normalizer.New(),
		Reasoning:   session.NewPassthroughReasoning(bridge),
		Diff:        session.NewPassthroughDiff(bridge),
		Permissions: session.NoopPermissions{},
	})

	if err := client.Connect(ctx); err != nil {
		logger.Fatal("runtime connect failed", logger.FieldError, err)
	}
	defer client.Close()

	util.SafeGo(func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("session loop exited", logger.FieldError, err)
		}
	})

	srv := apiserver.NewServer(hub, queue, orch, &apiserver.Stores{
		Transcript: transcripts,
		ToolCall:   toolCalls,
	})
	logger.Info("session-bridge starting", "listen_addr", cfg.ListenAddr, "runtime_ws", cfg.RuntimeWSURL)
	util.SafeGo(func() {
		if err := srv.Run(cfg.ListenAddr); err != nil {
			logger.Fatal("http server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}

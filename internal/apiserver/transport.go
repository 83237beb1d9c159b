// transport.go — session.SessionTransport 的服务端实现。
//
// 出站消息一路两用: 经 Hub 广播给前端, 同时尽力而为地落库
// (持久化失败只记日志, 绝不反压会话循环)。
package apiserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/multi-agent/session-bridge/internal/normalizer"
	"github.com/multi-agent/session-bridge/internal/session"
	"github.com/multi-agent/session-bridge/internal/store"
	"github.com/multi-agent/session-bridge/pkg/logger"
	"github.com/multi-agent/session-bridge/pkg/util"
)

const persistTimeout = 5 * time.Second

// BridgeTransport Hub 广播 + 可选转录持久化。
type BridgeTransport struct {
	hub         *Hub
	transcripts *store.TranscriptStore // nil 表示持久化禁用
	toolCalls   *store.ToolCallStore
}

// NewBridgeTransport 创建。stores 允许为 nil (无 Postgres 配置时)。
func NewBridgeTransport(hub *Hub, transcripts *store.TranscriptStore, toolCalls *store.ToolCallStore) *BridgeTransport {
	return &BridgeTransport{
		hub:         hub,
		transcripts: transcripts,
		toolCalls:   toolCalls,
	}
}

// SendToolCall 广播工具调用 begin 并落库。
func (t *BridgeTransport) SendToolCall(call session.ToolCall) {
	t.hub.Broadcast(call)
	if t.toolCalls == nil {
		return
	}
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		input, _ := json.Marshal(call.Input)
		if err := t.toolCalls.RecordBegin(ctx, &store.ToolCallRecord{
			CallID:   call.CallID,
			ThreadID: call.ThreadID,
			TurnID:   call.TurnID,
			Name:     call.Name,
			Input:    input,
		}); err != nil {
			logger.Warn("transport: tool call begin persist failed",
				logger.FieldCallID, call.CallID,
				logger.FieldError, err,
			)
		}
	})
}

// SendToolCallResult 广播工具调用 end 并落库。
func (t *BridgeTransport) SendToolCallResult(result session.ToolCallResult) {
	t.hub.Broadcast(result)
	if t.toolCalls == nil {
		return
	}
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		output, _ := json.Marshal(result.Output)
		if err := t.toolCalls.RecordEnd(ctx, result.CallID, output, result.IsError); err != nil {
			logger.Warn("transport: tool call end persist failed",
				logger.FieldCallID, result.CallID,
				logger.FieldError, err,
			)
		}
	})
}

// Forward 透传规范事件 (token_count / task_failed / agent_message 等)。
func (t *BridgeTransport) Forward(ev normalizer.Event) {
	t.hub.Broadcast(map[string]any{
		"type":      ev.Type,
		"thread_id": ev.ThreadID,
		"turn_id":   ev.TurnID,
		"item_id":   ev.ItemID,
		"status":    ev.Status,
		"payload":   ev.Payload,
	})
	if t.transcripts == nil {
		return
	}
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		payload, _ := json.Marshal(ev.Payload)
		if err := t.transcripts.Insert(ctx, &store.TranscriptEvent{
			ThreadID:  ev.ThreadID,
			TurnID:    ev.TurnID,
			ItemID:    ev.ItemID,
			EventType: ev.Type,
			Status:    ev.Status,
			Payload:   payload,
		}); err != nil {
			logger.Warn("transport: transcript persist failed",
				logger.FieldEventType, ev.Type,
				logger.FieldThreadID, ev.ThreadID,
				logger.FieldError, err,
			)
		}
	})
}

// SetThinking 思考指示灯广播。
func (t *BridgeTransport) SetThinking(active bool) {
	t.hub.Broadcast(map[string]any{"type": "thinking", "active": active})
}

// Ready 空闲信号广播。
func (t *BridgeTransport) Ready() {
	t.hub.Broadcast(map[string]any{"type": "ready"})
}

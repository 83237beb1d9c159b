// Package session 会话层: 回合生命周期追踪、工具调用关联与顶层编排循环。
//
// 数据单向流动: runtime 通知 → normalizer → 规范事件 → Emitter/Tracker →
// Orchestrator → 协作方 (会话传输、消息队列)。Orchestrator 反向发出
// 出站命令 (开线程、开回合、打断), 由 RuntimeClient 异步完成。
package session

import (
	"context"

	"github.com/multi-agent/session-bridge/internal/normalizer"
)

// ========================================
// 出站协议
// ========================================

// ToolCall 工具调用 begin 半边。trace 字段来源于规范事件, 可为空。
type ToolCall struct {
	Type     string         `json:"type"` // 恒为 "tool-call"
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	CallID   string         `json:"callId"`
	Input    map[string]any `json:"input,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
	TurnID   string         `json:"turn_id,omitempty"`
	ItemID   string         `json:"item_id,omitempty"`
	Status   string         `json:"status,omitempty"`
}

// ToolCallResult 工具调用 end 半边, callId 与 begin 相同。
type ToolCallResult struct {
	Type     string         `json:"type"` // 恒为 "tool-call-result"
	ID       string         `json:"id"`
	CallID   string         `json:"callId"`
	Output   map[string]any `json:"output,omitempty"`
	IsError  bool           `json:"is_error"`
	ThreadID string         `json:"thread_id,omitempty"`
	TurnID   string         `json:"turn_id,omitempty"`
	ItemID   string         `json:"item_id,omitempty"`
	Status   string         `json:"status,omitempty"`
}

const (
	messageTypeToolCall       = "tool-call"
	messageTypeToolCallResult = "tool-call-result"
)

// ========================================
// 协作方接口 — 会话层只依赖接口, 实现在各自包内
// ========================================

// SessionTransport 面向聊天界面的出站通道。
type SessionTransport interface {
	// SendToolCall / SendToolCallResult 推送工具调用协议消息。
	SendToolCall(call ToolCall)
	SendToolCallResult(result ToolCallResult)
	// Forward 按原样转发规范事件 (token_count / task_failed / agent_message)。
	Forward(ev normalizer.Event)
	// SetThinking 思考指示灯。
	SetThinking(active bool)
	// Ready 会话空闲信号: 无在途回合且无待处理消息。
	Ready()
}

// ReasoningProcessor 推理流后处理器。
type ReasoningProcessor interface {
	ProcessDelta(text string)
	Complete(text string)
	HandleSectionBreak()
	Abort()
}

// DiffProcessor diff 后处理器。
type DiffProcessor interface {
	ProcessDiff(diff string)
	Reset()
}

// PermissionHandler 权限审批状态, abort 与清理时复位。
type PermissionHandler interface {
	Reset()
}

// RuntimeClient 面向 runtime 的出站 RPC。所有调用接受取消信号。
type RuntimeClient interface {
	// StartThread 新建线程, 返回 runtime 分配的线程 id。
	StartThread(ctx context.Context) (string, error)
	// ResumeThread 恢复既有线程, 返回解析出的线程 id (可能与入参不同)。
	ResumeThread(ctx context.Context, threadID string) (string, error)
	// StartTurn 在线程内开启一个回合。回合 id 经 turn/started 通知回流。
	StartTurn(ctx context.Context, threadID string, input []UserMessage) error
	// InterruptTurn 打断在途回合。
	InterruptTurn(ctx context.Context, threadID, turnID string) error
}

// Package normalizer 将 runtime 异构通知流归一化为稳定的规范事件。
//
// runtime 的通知形态部分冗余 (同一字段多种命名/嵌套), 且流式字段以
// delta 分片到达。本包负责两件事:
//   - 方法级映射: (method, params) → 零或多个规范事件
//   - 流缓冲: 按 item id 累积 delta, 在 item 完成时合成完整值
//
// 规范事件一经产出不可变, 下游 (emitter / lifecycle tracker) 只读。
package normalizer

import "strings"

// ========================================
// 规范事件
// ========================================

// Event 规范事件: type 判别标签 + 固定 trace 字段 + 类型专属负载。
type Event struct {
	Type     string
	ThreadID string
	TurnID   string
	ItemID   string
	Status   string

	// Payload 类型专属字段 (如 exec_command_end 的 output/exit_code)。
	// 不包含 trace 字段。
	Payload map[string]any
}

// 事件类型常量。
const (
	// 线程/回合生命周期
	EventThreadStarted = "thread_started"
	EventTaskStarted   = "task_started"
	EventTaskComplete  = "task_complete"
	EventTurnAborted   = "turn_aborted"
	EventTaskFailed    = "task_failed"

	// 回合级附属信号
	EventTurnDiff        = "turn_diff"
	EventTurnPlanUpdated = "turn_plan_updated"
	EventTokenCount      = "token_count"

	// Agent 输出
	EventAgentMessage               = "agent_message"
	EventAgentReasoning             = "agent_reasoning"
	EventAgentReasoningDelta        = "agent_reasoning_delta"
	EventAgentReasoningSectionBreak = "agent_reasoning_section_break"
	EventAgentPlanDelta             = "agent_plan_delta"
	EventPlanItemStarted            = "plan_item_started"
	EventPlanItemCompleted          = "plan_item_completed"

	// 命令执行
	EventExecCommandBegin = "exec_command_begin"
	EventExecCommandEnd   = "exec_command_end"

	// 文件修改
	EventPatchApplyBegin = "patch_apply_begin"
	EventPatchApplyDelta = "patch_apply_delta"
	EventPatchApplyEnd   = "patch_apply_end"

	// 工具调用
	EventMCPToolCallBegin   = "mcp_tool_call_begin"
	EventMCPToolCallEnd     = "mcp_tool_call_end"
	EventCollabToolBegin    = "collab_tool_call_begin"
	EventCollabToolEnd      = "collab_tool_call_end"
	EventWebSearchBegin     = "web_search_begin"
	EventWebSearchEnd       = "web_search_end"
	EventImageViewBegin     = "image_view_begin"
	EventImageViewEnd       = "image_view_end"
	EventReviewModeEntered  = "review_mode_entered"
	EventReviewModeExited   = "review_mode_exited"
	EventCompactionStarted  = "context_compaction_started"
	EventCompactionComplete = "context_compaction_completed"
)

// reasoning_stream 取值 (agent_reasoning_delta 负载)。
const (
	ReasoningStreamRaw     = "raw"
	ReasoningStreamSummary = "summary"
)

// ========================================
// Item 种类 — 闭集, 新增种类必须补全 switch
// ========================================

// ItemKind item 的种类。入口处从原始类型字符串解析一次,
// 之后所有分发都走穷举 switch, 杜绝字符串比较散落各处。
type ItemKind int

const (
	KindUnknown ItemKind = iota
	KindAgentMessage
	KindReasoning
	KindPlan
	KindCommandExecution
	KindFileChange
	KindMCPToolCall
	KindCollabToolCall
	KindWebSearch
	KindImageView
	KindEnteredReviewMode
	KindExitedReviewMode
	KindContextCompaction
)

// String 返回种类名 (调试/日志用)。
func (k ItemKind) String() string {
	switch k {
	case KindAgentMessage:
		return "agentMessage"
	case KindReasoning:
		return "reasoning"
	case KindPlan:
		return "plan"
	case KindCommandExecution:
		return "commandExecution"
	case KindFileChange:
		return "fileChange"
	case KindMCPToolCall:
		return "mcpToolCall"
	case KindCollabToolCall:
		return "collabToolCall"
	case KindWebSearch:
		return "webSearch"
	case KindImageView:
		return "imageView"
	case KindEnteredReviewMode:
		return "enteredReviewMode"
	case KindExitedReviewMode:
		return "exitedReviewMode"
	case KindContextCompaction:
		return "contextCompaction"
	default:
		return "unknown"
	}
}

// ParseItemKind 解析原始 item 类型字符串。
// 大小写/空白/标点不敏感: "command_execution"、"CommandExecution"、
// "command-execution" 都归一到 KindCommandExecution。
func ParseItemKind(raw string) ItemKind {
	switch normalizeKindKey(raw) {
	case "agentmessage":
		return KindAgentMessage
	case "reasoning":
		return KindReasoning
	case "plan":
		return KindPlan
	case "commandexecution":
		return KindCommandExecution
	case "filechange":
		return KindFileChange
	case "mcptoolcall":
		return KindMCPToolCall
	case "collabtoolcall":
		return KindCollabToolCall
	case "websearch":
		return KindWebSearch
	case "imageview":
		return KindImageView
	case "enteredreviewmode":
		return KindEnteredReviewMode
	case "exitedreviewmode":
		return KindExitedReviewMode
	case "contextcompaction":
		return KindContextCompaction
	default:
		return KindUnknown
	}
}

// normalizeKindKey 小写并剔除非字母数字字符。
func normalizeKindKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

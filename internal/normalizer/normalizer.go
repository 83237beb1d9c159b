// normalizer.go — (method, params) → 规范事件的方法级映射。
package normalizer

import (
	"strings"
	"sync"

	"github.com/multi-agent/session-bridge/internal/protocol"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// Normalizer 通知归一化器。独占持有流缓冲。
//
// 通知在 transport 读协程进入, 而 Reset 来自编排循环的清理块与
// abort 路径 (HTTP 协程), 因此整体用互斥锁保护 — 与 Tracker 同理。
//
// 契约: HandleNotification 绝不 panic; 负载残缺时降级为尽力提取或
// 零事件。Reset 无条件清空全部缓冲 (turn 之间与 abort 时调用)。
type Normalizer struct {
	mu      sync.Mutex
	buffers *bufferStore
}

// New 创建归一化器。
func New() *Normalizer {
	return &Normalizer{buffers: newBufferStore()}
}

// Reset 清空全部流缓冲与元数据。
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffers.reset()
}

// HandleNotification 处理一条 runtime 通知, 返回零或多个规范事件。
func (n *Normalizer) HandleNotification(method string, payload map[string]any) []Event {
	if payload == nil {
		payload = map[string]any{}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch strings.TrimSpace(method) {
	case "thread/started", "thread/resumed":
		return []Event{n.trace(EventThreadStarted, payload)}

	case "turn/started":
		return []Event{n.trace(EventTaskStarted, payload)}

	case "turn/completed":
		return []Event{n.classifyTurnCompleted(payload)}

	case "turn/diff/updated":
		diff := firstString(payload, "diff", "unifiedDiff", "unified_diff")
		if diff == "" {
			return nil
		}
		ev := n.trace(EventTurnDiff, payload)
		ev.Payload = map[string]any{"diff": diff}
		return []Event{ev}

	case "turn/plan/updated":
		ev := n.trace(EventTurnPlanUpdated, payload)
		ev.Payload = map[string]any{
			"explanation": protocol.StringValue(payload["explanation"]),
			"plan":        payload["plan"],
		}
		return []Event{ev}

	case "thread/tokenUsage/updated":
		ev := n.trace(EventTokenCount, payload)
		ev.Payload = map[string]any{"info": tokenUsageInfo(payload)}
		return []Event{ev}

	case "error":
		return n.handleErrorNotification(payload)

	case "item/agentMessage/delta":
		// 仅缓冲, 不发事件; 完整消息在 item 完成时合成。
		n.buffers.appendMessage(protocol.ItemID(payload), deltaText(payload))
		return nil

	case "item/plan/delta":
		id := protocol.ItemID(payload)
		delta := deltaText(payload)
		n.buffers.appendPlan(id, delta)
		ev := n.trace(EventAgentPlanDelta, payload)
		ev.Payload = map[string]any{
			"delta": delta,
			"plan":  n.buffers.peekPlan(id),
		}
		return []Event{ev}

	case "item/reasoning/textDelta":
		return []Event{n.reasoningDelta(payload, ReasoningStreamRaw)}

	case "item/reasoning/summaryTextDelta":
		return []Event{n.reasoningDelta(payload, ReasoningStreamSummary)}

	case "item/reasoning/summaryPartAdded":
		return []Event{n.trace(EventAgentReasoningSectionBreak, payload)}

	case "item/commandExecution/outputDelta":
		n.buffers.appendCmdOutput(protocol.ItemID(payload), deltaText(payload))
		return nil

	case "item/fileChange/outputDelta":
		delta := deltaText(payload)
		n.buffers.appendPatchOutput(protocol.ItemID(payload), delta)
		ev := n.trace(EventPatchApplyDelta, payload)
		ev.Payload = map[string]any{"delta": delta}
		return []Event{ev}

	case "item/started":
		return n.handleItem(payload, false)

	case "item/completed":
		return n.handleItem(payload, true)

	default:
		logger.Debug("normalizer: unmapped notification method",
			logger.FieldMethod, method,
			logger.FieldParamsLen, len(payload),
		)
		return nil
	}
}

// trace 构造仅含 trace 字段的事件骨架。
func (n *Normalizer) trace(eventType string, payload map[string]any) Event {
	return Event{
		Type:     eventType,
		ThreadID: protocol.ThreadID(payload),
		TurnID:   protocol.TurnID(payload),
		ItemID:   protocol.ItemID(payload),
		Status:   protocol.Status(payload),
	}
}

// classifyTurnCompleted 按 status 区分 complete / aborted / failed。
//
// abort 同义词集 {interrupted, cancelled, canceled} 对照上游协议确认;
// 未知状态一律按 complete 处理。
func (n *Normalizer) classifyTurnCompleted(payload map[string]any) Event {
	status := strings.ToLower(strings.TrimSpace(protocol.Status(payload)))
	switch status {
	case "interrupted", "cancelled", "canceled":
		return n.trace(EventTurnAborted, payload)
	case "failed", "error":
		ev := n.trace(EventTaskFailed, payload)
		ev.Payload = map[string]any{"error": errorMessage(payload)}
		return ev
	default:
		return n.trace(EventTaskComplete, payload)
	}
}

// handleErrorNotification error 通知 → task_failed, will_retry 时整体抑制。
func (n *Normalizer) handleErrorNotification(payload map[string]any) []Event {
	if willRetry, ok := willRetryFlag(payload); ok && willRetry {
		logger.Debug("normalizer: retryable upstream error suppressed",
			logger.FieldParamsLen, len(payload))
		return nil
	}

	ev := n.trace(EventTaskFailed, payload)
	out := map[string]any{"error": errorMessage(payload)}
	if info := protocol.MapValue(payload, "error"); info != nil {
		out["error_info"] = info
	}
	if details := additionalDetails(payload); details != nil {
		out["additional_details"] = details
	}
	if status, ok := httpStatus(payload); ok {
		out["http_status"] = status
	}
	ev.Payload = out
	return []Event{ev}
}

// reasoningDelta raw/summary 两路推理 delta 共用一个按 item id 的缓冲。
func (n *Normalizer) reasoningDelta(payload map[string]any, stream string) Event {
	delta := deltaText(payload)
	n.buffers.appendReasoning(protocol.ItemID(payload), delta)

	ev := n.trace(EventAgentReasoningDelta, payload)
	out := map[string]any{
		"delta":            delta,
		"reasoning_stream": stream,
	}
	if idx, ok := protocol.IntValue(payload, "summaryIndex", "summary_index"); ok {
		out["summary_index"] = idx
	}
	ev.Payload = out
	return ev
}

// ========================================
// 负载提取辅助
// ========================================

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := protocol.StringValue(payload[key]); s != "" {
			return s
		}
	}
	return ""
}

// deltaText delta 通知的增量文本。
func deltaText(payload map[string]any) string {
	if d := protocol.Delta(payload); d != "" {
		return d
	}
	// 个别 runtime 版本把 delta 装进 text 字段
	return protocol.StringValue(payload["text"])
}

// errorMessage 提取错误文本: error 字符串 / error.message / message / reason。
func errorMessage(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	switch e := payload["error"].(type) {
	case string:
		if s := strings.TrimSpace(e); s != "" {
			return s
		}
	case map[string]any:
		if s := firstString(e, "message", "reason"); s != "" {
			return s
		}
	}
	if s := firstString(payload, "message", "reason"); s != "" {
		return s
	}
	if turn := protocol.MapValue(payload, "turn"); turn != nil {
		return firstString(turn, "error", "message", "reason")
	}
	return ""
}

func willRetryFlag(payload map[string]any) (bool, bool) {
	if v, ok := protocol.BoolValue(payload, "willRetry", "will_retry"); ok {
		return v, true
	}
	if info := protocol.MapValue(payload, "error"); info != nil {
		return protocol.BoolValue(info, "willRetry", "will_retry")
	}
	return false, false
}

func additionalDetails(payload map[string]any) map[string]any {
	if d := protocol.MapValue(payload, "additionalDetails"); d != nil {
		return d
	}
	return protocol.MapValue(payload, "additional_details")
}

// httpStatus HTTP 状态码可能出现在顶层、error 对象或 details 对象里。
func httpStatus(payload map[string]any) (int, bool) {
	keys := []string{"httpStatus", "http_status", "statusCode", "status_code"}
	if v, ok := protocol.IntValue(payload, keys...); ok {
		return v, true
	}
	if info := protocol.MapValue(payload, "error"); info != nil {
		if v, ok := protocol.IntValue(info, keys...); ok {
			return v, true
		}
	}
	if details := additionalDetails(payload); details != nil {
		if v, ok := protocol.IntValue(details, keys...); ok {
			return v, true
		}
	}
	return 0, false
}

// tokenUsageInfo token 用量对象: usage/tokenUsage/info 别名, 缺省用整个负载。
func tokenUsageInfo(payload map[string]any) map[string]any {
	for _, key := range []string{"usage", "tokenUsage", "token_usage", "info"} {
		if m := protocol.MapValue(payload, key); m != nil {
			return m
		}
	}
	return payload
}

// emitter.go — 规范事件 → 工具调用协议的关联发射器。
//
// 每个 begin/end 对共用同一 call id; 合成 plan 调用经 Tracker 的
// plan-call 槽位保证回合终止时必然关闭, 绝不悬挂。
package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/multi-agent/session-bridge/internal/normalizer"
	"github.com/multi-agent/session-bridge/internal/protocol"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// 合成 plan 工具调用名。
const planToolName = "exit_plan_mode"

// Emitter 消费规范事件, 发射 begin/end 工具调用与附属信号。
type Emitter struct {
	tracker   *Tracker
	transport SessionTransport
	reasoning ReasoningProcessor
	diff      DiffProcessor
}

// NewEmitter 创建发射器。
func NewEmitter(tracker *Tracker, transport SessionTransport, reasoning ReasoningProcessor, diff DiffProcessor) *Emitter {
	return &Emitter{
		tracker:   tracker,
		transport: transport,
		reasoning: reasoning,
		diff:      diff,
	}
}

// HandleEvent 处理一条规范事件。先推进生命周期, 回合终止时强制
// 关闭残留 plan 调用, 再按事件类型分发。返回是否为回合终止事件。
func (e *Emitter) HandleEvent(ev normalizer.Event) (terminal bool) {
	terminal = e.tracker.Observe(ev)
	if terminal {
		e.closeLeakedPlanCall(ev)
	}

	switch ev.Type {
	case normalizer.EventThreadStarted, normalizer.EventTaskStarted,
		normalizer.EventTaskComplete, normalizer.EventTurnAborted:
		// 生命周期事件由 Tracker/Orchestrator 消化, 不产生工具调用。

	case normalizer.EventTaskFailed, normalizer.EventTokenCount, normalizer.EventAgentMessage:
		e.transport.Forward(ev)

	case normalizer.EventAgentReasoningDelta:
		if text, ok := ev.Payload["delta"].(string); ok {
			e.reasoning.ProcessDelta(text)
		}

	case normalizer.EventAgentReasoning:
		text, _ := ev.Payload["text"].(string)
		e.reasoning.Complete(text)

	case normalizer.EventAgentReasoningSectionBreak:
		e.reasoning.HandleSectionBreak()

	case normalizer.EventTurnDiff:
		if diff, ok := ev.Payload["diff"].(string); ok {
			e.diff.ProcessDiff(diff)
		}

	case normalizer.EventTurnPlanUpdated, normalizer.EventAgentPlanDelta, normalizer.EventPlanItemStarted:
		e.openPlanCall(ev)

	case normalizer.EventPlanItemCompleted:
		e.closePlanCall(ev)

	case normalizer.EventExecCommandBegin:
		e.emitBegin(ev, "execute_command", "exec")
	case normalizer.EventExecCommandEnd:
		e.emitEnd(ev, "exec")

	case normalizer.EventPatchApplyBegin:
		e.emitBegin(ev, "apply_patch", "patch")
	case normalizer.EventPatchApplyEnd:
		e.emitEnd(ev, "patch")
	case normalizer.EventPatchApplyDelta:
		// 文件修改的流式输出只作 UI 提示, 不进入工具调用协议。
		e.transport.Forward(ev)

	case normalizer.EventMCPToolCallBegin:
		name, _ := ev.Payload["name"].(string)
		if name == "" {
			name = "mcp_tool_call"
		}
		e.emitBegin(ev, name, "mcp")
	case normalizer.EventMCPToolCallEnd:
		e.emitEnd(ev, "mcp")

	case normalizer.EventCollabToolBegin:
		e.emitBegin(ev, "collab_tool", "collab")
	case normalizer.EventCollabToolEnd:
		e.emitEnd(ev, "collab")

	case normalizer.EventWebSearchBegin:
		e.emitBegin(ev, "web_search", "search")
	case normalizer.EventWebSearchEnd:
		e.emitEnd(ev, "search")

	case normalizer.EventImageViewBegin:
		e.emitBegin(ev, "view_image", "image")
	case normalizer.EventImageViewEnd:
		e.emitEnd(ev, "image")

	case normalizer.EventReviewModeEntered:
		e.emitBegin(ev, "review_mode", "review")
	case normalizer.EventReviewModeExited:
		e.emitEnd(ev, "review")

	case normalizer.EventCompactionStarted:
		e.emitBegin(ev, "context_compaction", "compact")
	case normalizer.EventCompactionComplete:
		e.emitEnd(ev, "compact")

	default:
		logger.Debug("emitter: unhandled canonical event",
			logger.FieldEventType, ev.Type)
	}
	return terminal
}

// ========================================
// call id 推导
// ========================================

// deriveCallID 显式 call id → item id → 带类别前缀的新 id。
// begin/end 同 item id 时推导结果必然一致, 保证关联。
func deriveCallID(ev normalizer.Event, category string) string {
	if id := explicitCallID(ev.Payload); id != "" {
		return id
	}
	if id := strings.TrimSpace(ev.ItemID); id != "" {
		return id
	}
	return category + ":" + uuid.NewString()
}

func explicitCallID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	for _, key := range []string{"callId", "call_id"} {
		if s := protocol.StringValue(payload[key]); s != "" {
			return s
		}
	}
	return ""
}

// ========================================
// begin / end 发射
// ========================================

func (e *Emitter) emitBegin(ev normalizer.Event, name, category string) {
	e.transport.SendToolCall(ToolCall{
		Type:     messageTypeToolCall,
		ID:       uuid.NewString(),
		Name:     name,
		CallID:   deriveCallID(ev, category),
		Input:    ev.Payload,
		ThreadID: ev.ThreadID,
		TurnID:   ev.TurnID,
		ItemID:   ev.ItemID,
		Status:   ev.Status,
	})
}

func (e *Emitter) emitEnd(ev normalizer.Event, category string) {
	e.transport.SendToolCallResult(ToolCallResult{
		Type:     messageTypeToolCallResult,
		ID:       uuid.NewString(),
		CallID:   deriveCallID(ev, category),
		Output:   ev.Payload,
		IsError:  payloadIndicatesError(ev.Payload),
		ThreadID: ev.ThreadID,
		TurnID:   ev.TurnID,
		ItemID:   ev.ItemID,
		Status:   ev.Status,
	})
}

// payloadIndicatesError end 负载的错误判定: error 文本、显式 success=false
// 或非零退出码任一命中。
func payloadIndicatesError(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	if s := protocol.StringValue(payload["error"]); s != "" {
		return true
	}
	if success, ok := payload["success"].(bool); ok && !success {
		return true
	}
	if code, ok := payload["exit_code"].(int); ok && code != 0 {
		return true
	}
	return false
}

// ========================================
// 合成 plan 调用
// ========================================

// planTurnKey plan-call 槽位的键: 事件回合 id, 缺失时退回追踪器的当前回合。
func (e *Emitter) planTurnKey(ev normalizer.Event) string {
	if id := strings.TrimSpace(ev.TurnID); id != "" {
		return id
	}
	if id := e.tracker.TurnID(); id != "" {
		return id
	}
	return e.tracker.LastTurnID()
}

// openPlanCall 打开 (或复用) 回合的合成 plan 调用。
// 已打开时不重复发射 begin — 每回合恰好一个 begin。
func (e *Emitter) openPlanCall(ev normalizer.Event) {
	turnKey := e.planTurnKey(ev)
	callID := deriveCallID(ev, "plan-delta")
	resolved, opened := e.tracker.OpenPlanCall(turnKey, callID)
	if !opened {
		return
	}
	e.transport.SendToolCall(ToolCall{
		Type:     messageTypeToolCall,
		ID:       uuid.NewString(),
		Name:     planToolName,
		CallID:   resolved,
		Input:    ev.Payload,
		ThreadID: ev.ThreadID,
		TurnID:   ev.TurnID,
		ItemID:   ev.ItemID,
		Status:   ev.Status,
	})
}

// closePlanCall plan item 正常完成: 用完成文本关闭。
func (e *Emitter) closePlanCall(ev normalizer.Event) {
	turnKey := e.planTurnKey(ev)
	callID, ok := e.tracker.TakePlanCall(turnKey)
	if !ok {
		// 没有打开中的调用 (completion without start): 直接按常规 end 发射。
		callID = deriveCallID(ev, "plan-delta")
	}
	e.transport.SendToolCallResult(ToolCallResult{
		Type:     messageTypeToolCallResult,
		ID:       uuid.NewString(),
		CallID:   callID,
		Output:   ev.Payload,
		IsError:  false,
		ThreadID: ev.ThreadID,
		TurnID:   ev.TurnID,
		ItemID:   ev.ItemID,
		Status:   ev.Status,
	})
}

// closeLeakedPlanCall 回合终止时关闭残留 plan 调用, 结果带终止状态,
// 失败终止时置错误标志。
func (e *Emitter) closeLeakedPlanCall(ev normalizer.Event) {
	// 打开时与终止时的回合键来源可能不同 (事件自带 vs 追踪器兜底), 两个键都试。
	turnKey := strings.TrimSpace(ev.TurnID)
	callID, ok := e.tracker.TakePlanCall(turnKey)
	if !ok {
		turnKey = e.tracker.LastTurnID()
		callID, ok = e.tracker.TakePlanCall(turnKey)
	}
	if !ok {
		return
	}
	logger.Info("emitter: closing plan call at turn terminal",
		logger.FieldTurnID, turnKey,
		logger.FieldCallID, callID,
		logger.FieldEventType, ev.Type,
	)
	e.transport.SendToolCallResult(ToolCallResult{
		Type:     messageTypeToolCallResult,
		ID:       uuid.NewString(),
		CallID:   callID,
		Output:   map[string]any{"status": ev.Type},
		IsError:  ev.Type == normalizer.EventTaskFailed,
		ThreadID: ev.ThreadID,
		TurnID:   ev.TurnID,
		Status:   ev.Status,
	})
}

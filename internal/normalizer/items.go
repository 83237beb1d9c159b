// items.go — item/started 与 item/completed 的按种类分发。
//
// 十二种 item 的闭集 switch; 新增种类必须同时扩展 ParseItemKind 与此处,
// 否则编译期 (exhaustive switch 审查) 即可发现遗漏。
package normalizer

import (
	"strings"

	"github.com/multi-agent/session-bridge/internal/protocol"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// handleItem 分发一条 item 通知。completed=false 表示 item/started。
func (n *Normalizer) handleItem(payload map[string]any, completed bool) []Event {
	rawType := protocol.ItemType(payload)
	kind := ParseItemKind(rawType)
	id := protocol.ItemID(payload)

	// 无法识别的 item: 缺类型或缺 id 一律丢弃, 绝不报错。
	if kind == KindUnknown || id == "" {
		logger.Debug("normalizer: unidentifiable item notification dropped",
			logger.FieldItemKind, rawType,
			logger.FieldItemID, id,
			"completed", completed,
		)
		return nil
	}

	item := protocol.ItemObject(payload)

	switch kind {
	case KindAgentMessage:
		if !completed {
			return nil
		}
		text := completionText(item)
		buffered := n.buffers.takeMessage(id)
		if text == "" {
			text = buffered
		}
		ev := n.trace(EventAgentMessage, payload)
		ev.Payload = map[string]any{"message": text}
		return []Event{ev}

	case KindReasoning:
		if !completed {
			return nil
		}
		text := completionText(item)
		buffered := n.buffers.takeReasoning(id)
		if text == "" {
			text = buffered
		}
		ev := n.trace(EventAgentReasoning, payload)
		ev.Payload = map[string]any{"text": text}
		return []Event{ev}

	case KindPlan:
		return n.handlePlanItem(payload, item, id, completed)

	case KindCommandExecution:
		return n.handleCommandItem(payload, item, id, completed)

	case KindFileChange:
		return n.handleFileChangeItem(payload, item, id, completed)

	case KindMCPToolCall:
		ev := n.trace(pick(completed, EventMCPToolCallEnd, EventMCPToolCallBegin), payload)
		if completed {
			ev.Payload = map[string]any{
				"name":   mcpToolName(item),
				"result": firstAny(item, "result", "output"),
				"error":  errorMessage(item),
			}
		} else {
			ev.Payload = map[string]any{
				"name":      mcpToolName(item),
				"arguments": firstAny(item, "arguments", "args", "input"),
			}
		}
		return []Event{ev}

	case KindCollabToolCall:
		ev := n.trace(pick(completed, EventCollabToolEnd, EventCollabToolBegin), payload)
		if completed {
			ev.Payload = map[string]any{
				"result": firstAny(item, "result", "output"),
				"error":  errorMessage(item),
			}
		} else {
			ev.Payload = map[string]any{
				"sender_thread_id":   firstString(item, "senderThreadId", "sender_thread_id"),
				"receiver_thread_id": firstString(item, "receiverThreadId", "receiver_thread_id"),
				"new_thread_id":      firstString(item, "newThreadId", "new_thread_id"),
				"prompt":             firstString(item, "prompt", "message"),
				"agent_status":       firstString(item, "agentStatus", "agent_status"),
			}
		}
		return []Event{ev}

	case KindWebSearch:
		ev := n.trace(pick(completed, EventWebSearchEnd, EventWebSearchBegin), payload)
		if completed {
			ev.Payload = map[string]any{
				"result": firstAny(item, "result", "results", "output"),
				"error":  errorMessage(item),
			}
		} else {
			ev.Payload = map[string]any{
				"query":  firstString(item, "query"),
				"action": firstString(item, "action"),
			}
		}
		return []Event{ev}

	case KindImageView:
		ev := n.trace(pick(completed, EventImageViewEnd, EventImageViewBegin), payload)
		if completed {
			ev.Payload = map[string]any{
				"result": firstAny(item, "result", "output"),
				"error":  errorMessage(item),
			}
		} else {
			ev.Payload = map[string]any{"path": firstString(item, "path", "file")}
		}
		return []Event{ev}

	case KindEnteredReviewMode, KindExitedReviewMode:
		// 单次事件, 不要求 start/end 配对: 哪条通知带了该类型就在哪条上发。
		eventType := EventReviewModeEntered
		if kind == KindExitedReviewMode {
			eventType = EventReviewModeExited
		}
		ev := n.trace(eventType, payload)
		ev.Payload = map[string]any{"review": firstAny(item, "review", "payload")}
		return []Event{ev}

	case KindContextCompaction:
		return []Event{n.trace(pick(completed, EventCompactionComplete, EventCompactionStarted), payload)}
	}

	return nil
}

// handlePlanItem plan item: start 时可带显式文本种子。
func (n *Normalizer) handlePlanItem(payload, item map[string]any, id string, completed bool) []Event {
	if !completed {
		text := completionText(item)
		if text != "" {
			n.buffers.seedPlan(id, text)
		}
		ev := n.trace(EventPlanItemStarted, payload)
		ev.Payload = map[string]any{"text": text}
		return []Event{ev}
	}

	text := completionText(item)
	buffered := n.buffers.takePlan(id)
	if text == "" {
		text = buffered
	}
	ev := n.trace(EventPlanItemCompleted, payload)
	ev.Payload = map[string]any{"text": text}
	return []Event{ev}
}

// handleCommandItem commandExecution: begin 捕获元数据, end 合并回填。
func (n *Normalizer) handleCommandItem(payload, item map[string]any, id string, completed bool) []Event {
	if !completed {
		if n.buffers.hasExecMeta(id) {
			// 同一 item id 未完成即再次 started: 上游协议未定义该情形,
			// 以新快照覆盖旧快照并告警。
			logger.Warn("normalizer: duplicate item/started for command item, metadata replaced",
				logger.FieldItemID, id)
		}
		autoApproved, _ := protocol.BoolValue(item, "autoApproved", "auto_approved", "approved")
		meta := execMetadata{
			Command:      commandString(item),
			Cwd:          firstString(item, "cwd", "workingDirectory", "working_directory", "workdir"),
			AutoApproved: autoApproved,
			ThreadID:     protocol.ThreadID(payload),
			TurnID:       protocol.TurnID(payload),
		}
		n.buffers.putExecMeta(id, meta)

		ev := n.trace(EventExecCommandBegin, payload)
		ev.Payload = map[string]any{
			"command":       meta.Command,
			"cwd":           meta.Cwd,
			"auto_approved": meta.AutoApproved,
		}
		return []Event{ev}
	}

	meta, _ := n.buffers.takeExecMeta(id)
	buffered := n.buffers.takeCmdOutput(id)
	output := firstString(item, "output", "stdout", "aggregatedOutput", "aggregated_output")
	if output == "" {
		output = buffered
	}

	ev := n.trace(EventExecCommandEnd, payload)
	// completion 缺少 thread/turn 时回填 begin 时快照
	if ev.ThreadID == "" {
		ev.ThreadID = meta.ThreadID
	}
	if ev.TurnID == "" {
		ev.TurnID = meta.TurnID
	}
	out := map[string]any{
		"command":       meta.Command,
		"cwd":           meta.Cwd,
		"auto_approved": meta.AutoApproved,
		"output":        output,
	}
	if stderr := firstString(item, "stderr"); stderr != "" {
		out["stderr"] = stderr
	}
	if errMsg := errorMessage(item); errMsg != "" {
		out["error"] = errMsg
	}
	if code, ok := protocol.IntValue(item, "exitCode", "exit_code", "code"); ok {
		out["exit_code"] = code
	}
	ev.Payload = out
	return []Event{ev}
}

// handleFileChangeItem fileChange: begin 捕获变更集, end 合并回填。
func (n *Normalizer) handleFileChangeItem(payload, item map[string]any, id string, completed bool) []Event {
	if !completed {
		if n.buffers.hasPatchMeta(id) {
			logger.Warn("normalizer: duplicate item/started for file change item, metadata replaced",
				logger.FieldItemID, id)
		}
		autoApproved, _ := protocol.BoolValue(item, "autoApproved", "auto_approved", "approved")
		meta := patchMetadata{
			Changes:      changeSet(item),
			AutoApproved: autoApproved,
			ThreadID:     protocol.ThreadID(payload),
			TurnID:       protocol.TurnID(payload),
		}
		n.buffers.putPatchMeta(id, meta)

		ev := n.trace(EventPatchApplyBegin, payload)
		ev.Payload = map[string]any{
			"changes":       meta.Changes,
			"auto_approved": meta.AutoApproved,
		}
		return []Event{ev}
	}

	meta, _ := n.buffers.takePatchMeta(id)
	buffered := n.buffers.takePatchOutput(id)
	stdout := firstString(item, "stdout", "output")
	if stdout == "" {
		stdout = buffered
	}

	success, ok := protocol.BoolValue(item, "success", "ok", "applied")
	if !ok {
		success = strings.EqualFold(strings.TrimSpace(protocol.Status(payload)), "completed")
	}

	ev := n.trace(EventPatchApplyEnd, payload)
	if ev.ThreadID == "" {
		ev.ThreadID = meta.ThreadID
	}
	if ev.TurnID == "" {
		ev.TurnID = meta.TurnID
	}
	out := map[string]any{
		"changes":       meta.Changes,
		"auto_approved": meta.AutoApproved,
		"stdout":        stdout,
		"success":       success,
	}
	if stderr := firstString(item, "stderr"); stderr != "" {
		out["stderr"] = stderr
	}
	ev.Payload = out
	return []Event{ev}
}

// ========================================
// item 字段辅助
// ========================================

func pick(completed bool, endType, beginType string) string {
	if completed {
		return endType
	}
	return beginType
}

// completionText item 完成时的显式文本字段 (不含 delta)。
func completionText(item map[string]any) string {
	return firstString(item, "text", "content", "message")
}

func firstAny(item map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := item[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// commandString 命令可能是字符串或 argv 数组。
func commandString(item map[string]any) string {
	if s := firstString(item, "command", "cmd"); s != "" {
		return s
	}
	argv, ok := item["command"].([]any)
	if !ok {
		argv, _ = item["cmd"].([]any)
	}
	if len(argv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(argv))
	for _, a := range argv {
		if s, ok := a.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// mcpToolName mcp__{server}__{tool} / 裸 tool / 通用兜底。
func mcpToolName(item map[string]any) string {
	server := firstString(item, "server", "serverName", "server_name")
	tool := firstString(item, "tool", "toolName", "tool_name", "name")
	switch {
	case server != "" && tool != "":
		return "mcp__" + server + "__" + tool
	case tool != "":
		return tool
	default:
		return "mcp_tool_call"
	}
}

// changeSet 变更集: 数组或对象两种上游形态 → path → 变更记录。
func changeSet(item map[string]any) map[string]any {
	raw, ok := item["changes"]
	if !ok {
		raw = item["files"]
	}
	switch typed := raw.(type) {
	case map[string]any:
		return typed
	case []any:
		changes := make(map[string]any, len(typed))
		for _, entry := range typed {
			record, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			path := firstString(record, "path", "file", "filename")
			if path == "" {
				continue
			}
			changes[path] = record
		}
		return changes
	default:
		return map[string]any{}
	}
}

package normalizer

import (
	"reflect"
	"testing"
)

func TestParseItemKind(t *testing.T) {
	tests := []struct {
		raw  string
		want ItemKind
	}{
		{"agentMessage", KindAgentMessage},
		{"agent_message", KindAgentMessage},
		{"CommandExecution", KindCommandExecution},
		{"command-execution", KindCommandExecution},
		{" fileChange ", KindFileChange},
		{"mcpToolCall", KindMCPToolCall},
		{"collab_tool_call", KindCollabToolCall},
		{"webSearch", KindWebSearch},
		{"imageView", KindImageView},
		{"enteredReviewMode", KindEnteredReviewMode},
		{"exitedReviewMode", KindExitedReviewMode},
		{"contextCompaction", KindContextCompaction},
		{"reasoning", KindReasoning},
		{"plan", KindPlan},
		{"somethingNew", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := ParseItemKind(tt.raw); got != tt.want {
			t.Errorf("ParseItemKind(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCommandExecution_EndToEnd(t *testing.T) {
	n := New()

	begin := handleOne(t, n, "item/started", map[string]any{
		"threadId": "th-1",
		"turnId":   "tu-1",
		"item": map[string]any{
			"id":           "cmd-1",
			"type":         "commandExecution",
			"command":      "ls",
			"cwd":          "/tmp",
			"autoApproved": true,
		},
	})
	if begin.Type != EventExecCommandBegin {
		t.Fatalf("begin Type = %q", begin.Type)
	}
	if got, _ := begin.Payload["command"].(string); got != "ls" {
		t.Errorf("begin command = %q", got)
	}
	if got, _ := begin.Payload["auto_approved"].(bool); !got {
		t.Error("begin auto_approved should be true")
	}

	// 输出分片仅缓冲
	for _, d := range []string{"o", "k"} {
		if events := n.HandleNotification("item/commandExecution/outputDelta", map[string]any{
			"itemId": "cmd-1",
			"delta":  d,
		}); len(events) != 0 {
			t.Fatalf("outputDelta should be buffer-only, got %d events", len(events))
		}
	}

	// completion 不带 thread/turn id → 从 begin 快照回填
	end := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{
			"id":       "cmd-1",
			"type":     "commandExecution",
			"exitCode": float64(0),
		},
	})
	if end.Type != EventExecCommandEnd {
		t.Fatalf("end Type = %q", end.Type)
	}
	if got, _ := end.Payload["output"].(string); got != "ok" {
		t.Errorf("output = %q, want %q", got, "ok")
	}
	if got, _ := end.Payload["exit_code"].(int); got != 0 {
		t.Errorf("exit_code = %v", end.Payload["exit_code"])
	}
	if got, _ := end.Payload["command"].(string); got != "ls" {
		t.Errorf("command = %q, metadata from begin should survive", got)
	}
	if end.ThreadID != "th-1" || end.TurnID != "tu-1" {
		t.Errorf("trace backfill: ThreadID=%q TurnID=%q", end.ThreadID, end.TurnID)
	}

	// 终止后缓冲与元数据必须已删除: 再次 completion 得到空 output
	again := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{"id": "cmd-1", "type": "commandExecution"},
	})
	if got, _ := again.Payload["output"].(string); got != "" {
		t.Errorf("buffer leaked past terminal transition: output = %q", got)
	}
	if got, _ := again.Payload["command"].(string); got != "" {
		t.Errorf("metadata leaked past terminal transition: command = %q", got)
	}
}

func TestCommandExecution_ArgvCommand(t *testing.T) {
	n := New()
	begin := handleOne(t, n, "item/started", map[string]any{
		"item": map[string]any{
			"id":      "cmd-2",
			"type":    "commandExecution",
			"command": []any{"git", "status", "--short"},
		},
	})
	if got, _ := begin.Payload["command"].(string); got != "git status --short" {
		t.Errorf("command = %q, want joined argv", got)
	}
}

func TestCommandExecution_ExplicitOutputWinsOverBuffer(t *testing.T) {
	n := New()
	n.HandleNotification("item/started", map[string]any{
		"item": map[string]any{"id": "cmd-3", "type": "commandExecution", "command": "true"},
	})
	n.HandleNotification("item/commandExecution/outputDelta", map[string]any{"itemId": "cmd-3", "delta": "partial"})
	end := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{
			"id":               "cmd-3",
			"type":             "commandExecution",
			"aggregatedOutput": "full output",
		},
	})
	if got, _ := end.Payload["output"].(string); got != "full output" {
		t.Errorf("output = %q, explicit aggregated output should win", got)
	}
	// 即便未被使用, 缓冲也必须被消耗掉
	again := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{"id": "cmd-3", "type": "commandExecution"},
	})
	if got, _ := again.Payload["output"].(string); got != "" {
		t.Errorf("buffer not consumed: %q", got)
	}
}

func TestCommandExecution_DuplicateStartReplacesMetadata(t *testing.T) {
	n := New()
	n.HandleNotification("item/started", map[string]any{
		"item": map[string]any{"id": "cmd-4", "type": "commandExecution", "command": "old"},
	})
	n.HandleNotification("item/started", map[string]any{
		"item": map[string]any{"id": "cmd-4", "type": "commandExecution", "command": "new"},
	})
	end := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{"id": "cmd-4", "type": "commandExecution"},
	})
	if got, _ := end.Payload["command"].(string); got != "new" {
		t.Errorf("command = %q, duplicate start should replace metadata", got)
	}
}

func TestFileChange_EndToEnd(t *testing.T) {
	n := New()

	begin := handleOne(t, n, "item/started", map[string]any{
		"threadId": "th-1",
		"item": map[string]any{
			"id":   "fc-1",
			"type": "fileChange",
			"changes": []any{
				map[string]any{"path": "a.go", "kind": "edit"},
				map[string]any{"path": "b.go", "kind": "add"},
			},
		},
	})
	if begin.Type != EventPatchApplyBegin {
		t.Fatalf("begin Type = %q", begin.Type)
	}
	changes, ok := begin.Payload["changes"].(map[string]any)
	if !ok || len(changes) != 2 {
		t.Fatalf("changes = %v", begin.Payload["changes"])
	}
	if _, ok := changes["a.go"]; !ok {
		t.Error("changes missing a.go")
	}

	delta := handleOne(t, n, "item/fileChange/outputDelta", map[string]any{"itemId": "fc-1", "delta": "patching "})
	if delta.Type != EventPatchApplyDelta {
		t.Fatalf("delta Type = %q", delta.Type)
	}
	n.HandleNotification("item/fileChange/outputDelta", map[string]any{"itemId": "fc-1", "delta": "a.go"})

	end := handleOne(t, n, "item/completed", map[string]any{
		"status": "completed",
		"item":   map[string]any{"id": "fc-1", "type": "fileChange"},
	})
	if end.Type != EventPatchApplyEnd {
		t.Fatalf("end Type = %q", end.Type)
	}
	if got, _ := end.Payload["stdout"].(string); got != "patching a.go" {
		t.Errorf("stdout = %q", got)
	}
	// success 未显式给出 → 从 status 推导
	if got, _ := end.Payload["success"].(bool); !got {
		t.Error("success should derive true from status=completed")
	}
	if end.ThreadID != "th-1" {
		t.Errorf("ThreadID = %q, want backfilled th-1", end.ThreadID)
	}
}

func TestFileChange_ExplicitSuccessFlag(t *testing.T) {
	n := New()
	end := handleOne(t, n, "item/completed", map[string]any{
		"status": "completed",
		"item": map[string]any{
			"id":      "fc-2",
			"type":    "fileChange",
			"success": false,
			"stderr":  "conflict",
		},
	})
	if got, _ := end.Payload["success"].(bool); got {
		t.Error("explicit success=false must win over status")
	}
	if got, _ := end.Payload["stderr"].(string); got != "conflict" {
		t.Errorf("stderr = %q", got)
	}
}

func TestFileChange_ObjectChanges(t *testing.T) {
	n := New()
	begin := handleOne(t, n, "item/started", map[string]any{
		"item": map[string]any{
			"id":   "fc-3",
			"type": "fileChange",
			"changes": map[string]any{
				"c.go": map[string]any{"kind": "delete"},
			},
		},
	})
	changes, _ := begin.Payload["changes"].(map[string]any)
	if !reflect.DeepEqual(changes, map[string]any{"c.go": map[string]any{"kind": "delete"}}) {
		t.Errorf("changes = %v", changes)
	}
}

func TestPlanItem_SeedAndDeltas(t *testing.T) {
	n := New()
	started := handleOne(t, n, "item/started", map[string]any{
		"item": map[string]any{"id": "p-1", "type": "plan", "text": "1. "},
	})
	if started.Type != EventPlanItemStarted {
		t.Fatalf("Type = %q", started.Type)
	}
	if got, _ := started.Payload["text"].(string); got != "1. " {
		t.Errorf("seed text = %q", got)
	}

	n.HandleNotification("item/plan/delta", map[string]any{"itemId": "p-1", "delta": "investigate"})

	done := handleOne(t, n, "item/completed", map[string]any{
		"item": map[string]any{"id": "p-1", "type": "plan"},
	})
	if done.Type != EventPlanItemCompleted {
		t.Fatalf("Type = %q", done.Type)
	}
	if got, _ := done.Payload["text"].(string); got != "1. investigate" {
		t.Errorf("text = %q, want seed + delta", got)
	}
}

func TestMCPToolCall_NameDerivation(t *testing.T) {
	tests := []struct {
		name string
		item map[string]any
		want string
	}{
		{"server and tool", map[string]any{"server": "fs", "tool": "read"}, "mcp__fs__read"},
		{"tool only", map[string]any{"tool": "read"}, "read"},
		{"name alias", map[string]any{"name": "search"}, "search"},
		{"nothing", map[string]any{}, "mcp_tool_call"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := map[string]any{"id": "mcp-1", "type": "mcpToolCall"}
			for k, v := range tt.item {
				item[k] = v
			}
			ev := handleOne(t, New(), "item/started", map[string]any{"item": item})
			if ev.Type != EventMCPToolCallBegin {
				t.Fatalf("Type = %q", ev.Type)
			}
			if got, _ := ev.Payload["name"].(string); got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollabToolCall_BeginPayload(t *testing.T) {
	ev := handleOne(t, New(), "item/started", map[string]any{
		"item": map[string]any{
			"id":               "col-1",
			"type":             "collabToolCall",
			"senderThreadId":   "th-a",
			"receiverThreadId": "th-b",
			"prompt":           "please review",
			"agentStatus":      "idle",
		},
	})
	if ev.Type != EventCollabToolBegin {
		t.Fatalf("Type = %q", ev.Type)
	}
	if got, _ := ev.Payload["sender_thread_id"].(string); got != "th-a" {
		t.Errorf("sender_thread_id = %q", got)
	}
	if got, _ := ev.Payload["receiver_thread_id"].(string); got != "th-b" {
		t.Errorf("receiver_thread_id = %q", got)
	}
	if got, _ := ev.Payload["prompt"].(string); got != "please review" {
		t.Errorf("prompt = %q", got)
	}
}

func TestReviewModeAndCompaction(t *testing.T) {
	tests := []struct {
		itemType  string
		completed bool
		want      string
	}{
		{"enteredReviewMode", false, EventReviewModeEntered},
		{"enteredReviewMode", true, EventReviewModeEntered},
		{"exitedReviewMode", true, EventReviewModeExited},
		{"contextCompaction", false, EventCompactionStarted},
		{"contextCompaction", true, EventCompactionComplete},
	}
	for _, tt := range tests {
		method := "item/started"
		if tt.completed {
			method = "item/completed"
		}
		ev := handleOne(t, New(), method, map[string]any{
			"item": map[string]any{"id": "x-1", "type": tt.itemType},
		})
		if ev.Type != tt.want {
			t.Errorf("%s completed=%v: Type = %q, want %q", tt.itemType, tt.completed, ev.Type, tt.want)
		}
	}
}

func TestUnidentifiableItem_Dropped(t *testing.T) {
	n := New()
	if events := n.HandleNotification("item/completed", map[string]any{
		"item": map[string]any{"id": "x-1", "type": "galaxyBrain"},
	}); len(events) != 0 {
		t.Errorf("unknown item type should be dropped, got %d events", len(events))
	}
	if events := n.HandleNotification("item/completed", map[string]any{
		"item": map[string]any{"type": "agentMessage"},
	}); len(events) != 0 {
		t.Errorf("item without id should be dropped, got %d events", len(events))
	}
}

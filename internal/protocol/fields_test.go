package protocol

import "testing"

func TestThreadID_AllShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"camelCase flat", map[string]any{"threadId": "th-1"}, "th-1"},
		{"snake_case flat", map[string]any{"thread_id": "th-2"}, "th-2"},
		{"nested item", map[string]any{"item": map[string]any{"threadId": "th-3"}}, "th-3"},
		{"nested turn", map[string]any{"turn": map[string]any{"thread_id": "th-4"}}, "th-4"},
		{"nested thread object", map[string]any{"thread": map[string]any{"id": "th-5"}}, "th-5"},
		{"flat wins over nested", map[string]any{
			"threadId": "th-flat",
			"item":     map[string]any{"threadId": "th-nested"},
		}, "th-flat"},
		{"whitespace trimmed", map[string]any{"threadId": "  th-6  "}, "th-6"},
		{"missing", map[string]any{}, ""},
		{"nil payload", nil, ""},
		{"non-string ignored", map[string]any{"threadId": 42}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThreadID(tt.payload); got != tt.want {
				t.Errorf("ThreadID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTurnID_NestedTurnObject(t *testing.T) {
	payload := map[string]any{"turn": map[string]any{"id": "tu-1"}}
	if got := TurnID(payload); got != "tu-1" {
		t.Errorf("TurnID = %q, want %q", got, "tu-1")
	}
}

func TestItemID_BareIDIsLastResort(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"itemId beats bare id", map[string]any{"itemId": "it-1", "id": "raw"}, "it-1"},
		{"nested item id beats bare id", map[string]any{
			"item": map[string]any{"id": "it-2"},
			"id":   "raw",
		}, "it-2"},
		{"bare id fallback", map[string]any{"id": "it-3"}, "it-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ItemID(tt.payload); got != tt.want {
				t.Errorf("ItemID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatus_NestedTurn(t *testing.T) {
	payload := map[string]any{"turn": map[string]any{"status": "Interrupted"}}
	if got := Status(payload); got != "Interrupted" {
		t.Errorf("Status = %q, want %q (case must be preserved)", got, "Interrupted")
	}
}

func TestText_PriorityOrder(t *testing.T) {
	payload := map[string]any{"text": "full", "delta": "d"}
	if got := Text(payload); got != "d" {
		t.Errorf("Text = %q, delta should win over text", got)
	}
	payload = map[string]any{"item": map[string]any{"content": "c"}, "message": "m"}
	if got := Text(payload); got != "c" {
		t.Errorf("Text = %q, item context should win over flat params", got)
	}
}

func TestItemType_Aliases(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"itemType flat", map[string]any{"itemType": "commandExecution"}, "commandExecution"},
		{"item_type flat", map[string]any{"item_type": "fileChange"}, "fileChange"},
		{"nested item type", map[string]any{"item": map[string]any{"type": "reasoning"}}, "reasoning"},
		{"nested kind", map[string]any{"item": map[string]any{"kind": "plan"}}, "plan"},
		{"missing", map[string]any{"item": map[string]any{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ItemType(tt.payload); got != tt.want {
				t.Errorf("ItemType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoolValue_Coercion(t *testing.T) {
	payload := map[string]any{"willRetry": "yes", "done": false}
	if v, ok := BoolValue(payload, "willRetry", "will_retry"); !ok || !v {
		t.Errorf("BoolValue(willRetry) = (%v, %v), want (true, true)", v, ok)
	}
	if v, ok := BoolValue(payload, "done"); !ok || v {
		t.Errorf("BoolValue(done) = (%v, %v), want (false, true)", v, ok)
	}
	if _, ok := BoolValue(payload, "absent"); ok {
		t.Error("BoolValue(absent) should report missing")
	}
}

func TestIntValue_JSONNumberShapes(t *testing.T) {
	payload := map[string]any{
		"exitCode":   float64(0),
		"httpStatus": "429",
		"bad":        "not-a-number",
	}
	if v, ok := IntValue(payload, "exitCode"); !ok || v != 0 {
		t.Errorf("IntValue(exitCode) = (%d, %v), want (0, true)", v, ok)
	}
	if v, ok := IntValue(payload, "httpStatus"); !ok || v != 429 {
		t.Errorf("IntValue(httpStatus) = (%d, %v), want (429, true)", v, ok)
	}
	if _, ok := IntValue(payload, "bad"); ok {
		t.Error("IntValue(bad) should report missing for non-numeric string")
	}
}

func TestSyncKeys_BothDirections(t *testing.T) {
	m := map[string]any{"willRetry": true}
	SyncKeys(m, "willRetry", "will_retry")
	if m["will_retry"] != true {
		t.Error("snake_case key should be backfilled from camelCase")
	}

	m = map[string]any{"will_retry": false}
	SyncKeys(m, "willRetry", "will_retry")
	if m["willRetry"] != false {
		t.Error("camelCase key should be backfilled from snake_case")
	}
}

func TestDecodeParams_Malformed(t *testing.T) {
	if got := DecodeParams([]byte(`{broken`)); got == nil || len(got) != 0 {
		t.Errorf("DecodeParams on malformed input should return empty map, got %v", got)
	}
	if got := DecodeParams(nil); got == nil {
		t.Error("DecodeParams(nil) should return empty map")
	}
	if got := DecodeParams([]byte(`null`)); got == nil {
		t.Error("DecodeParams(null) should return empty map")
	}
}

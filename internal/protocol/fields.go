// fields.go — 通知负载字段提取。
//
// runtime 历史上混用 camelCase/snake_case/短别名, 且同一字段可能出现在
// 扁平 params、嵌套 item、嵌套 turn 三种位置。这里集中吸收所有变体,
// 产出单一规范取值; 取不到一律返回零值, 绝不 panic。
package protocol

import "strings"

// StringValue 取字符串字段 (trim 后), 非字符串返回空。
func StringValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// MapValue 取嵌套 map 字段, 不存在或类型不符返回 nil。
func MapValue(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	m, _ := payload[key].(map[string]any)
	return m
}

// firstString 依次尝试多个 key, 返回第一个非空字符串。
func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		if s := StringValue(payload[key]); s != "" {
			return s
		}
	}
	return ""
}

// ThreadID 提取 thread id。
// 取值顺序: 扁平 threadId/thread_id → item 内 → turn 内 → thread.id。
func ThreadID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if id := firstString(payload, "threadId", "thread_id"); id != "" {
		return id
	}
	if item := MapValue(payload, "item"); item != nil {
		if id := firstString(item, "threadId", "thread_id"); id != "" {
			return id
		}
	}
	if turn := MapValue(payload, "turn"); turn != nil {
		if id := firstString(turn, "threadId", "thread_id"); id != "" {
			return id
		}
	}
	if thread := MapValue(payload, "thread"); thread != nil {
		if id := firstString(thread, "id", "threadId", "thread_id"); id != "" {
			return id
		}
	}
	return ""
}

// TurnID 提取 turn id。
// 取值顺序: 扁平 turnId/turn_id → item 内 → turn.id/turn.turnId。
func TurnID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if id := firstString(payload, "turnId", "turn_id"); id != "" {
		return id
	}
	if item := MapValue(payload, "item"); item != nil {
		if id := firstString(item, "turnId", "turn_id"); id != "" {
			return id
		}
	}
	if turn := MapValue(payload, "turn"); turn != nil {
		if id := firstString(turn, "id", "turnId", "turn_id"); id != "" {
			return id
		}
	}
	return ""
}

// ItemID 提取 item id。
// 取值顺序: 扁平 itemId/item_id → item.id/item.itemId → 扁平 id。
// 裸 id 放最后: thread/turn 通知也带 id, 只有 item 语境才应回退到它。
func ItemID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if id := firstString(payload, "itemId", "item_id"); id != "" {
		return id
	}
	if item := MapValue(payload, "item"); item != nil {
		if id := firstString(item, "id", "itemId", "item_id"); id != "" {
			return id
		}
	}
	return firstString(payload, "id")
}

// Status 提取状态文本 (不做大小写折叠, 由调用方决定)。
func Status(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if s := firstString(payload, "status", "state"); s != "" {
		return s
	}
	if item := MapValue(payload, "item"); item != nil {
		if s := firstString(item, "status", "state"); s != "" {
			return s
		}
	}
	if turn := MapValue(payload, "turn"); turn != nil {
		if s := firstString(turn, "status", "state"); s != "" {
			return s
		}
	}
	return ""
}

// ItemObject 返回 item 语境对象: 嵌套 item 存在则用它, 否则视 params 本身为扁平 item。
func ItemObject(payload map[string]any) map[string]any {
	if item := MapValue(payload, "item"); item != nil {
		return item
	}
	return payload
}

// ItemType 提取 item 类型原文 (归一化交给调用方)。
func ItemType(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	item := ItemObject(payload)
	if t := firstString(item, "itemType", "item_type", "type", "kind"); t != "" {
		return t
	}
	return firstString(payload, "itemType", "item_type")
}

// Text 提取文本内容, 优先级: delta > text > content > output > message。
// 先查 item 语境, 再查扁平 params。
func Text(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	item := ItemObject(payload)
	if s := firstString(item, "delta", "text", "content", "output", "message"); s != "" {
		return s
	}
	return firstString(payload, "delta", "text", "content", "output", "message")
}

// Delta 提取增量文本 (仅 delta 别名, 不回退到完整字段)。
func Delta(payload map[string]any) string {
	return firstString(payload, "delta", "chunk", "textDelta", "text_delta")
}

// BoolValue 提取布尔字段, 接受 bool 及 "true"/"1"/"yes" 等字符串形态。
// 第二返回值表示字段是否存在且可解释。
func BoolValue(payload map[string]any, keys ...string) (bool, bool) {
	if payload == nil {
		return false, false
	}
	for _, key := range keys {
		value, exists := payload[key]
		if !exists {
			continue
		}
		switch typed := value.(type) {
		case bool:
			return typed, true
		case string:
			switch strings.ToLower(strings.TrimSpace(typed)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n":
				return false, true
			}
		}
	}
	return false, false
}

// IntValue 提取整型字段, 吸收 JSON 解码产生的 float64 及字符串数字。
// 第二返回值表示字段是否存在且可解释。
func IntValue(payload map[string]any, keys ...string) (int, bool) {
	if payload == nil {
		return 0, false
	}
	for _, key := range keys {
		value, exists := payload[key]
		if !exists {
			continue
		}
		switch typed := value.(type) {
		case float64:
			return int(typed), true
		case int:
			return typed, true
		case int64:
			return int(typed), true
		case string:
			trimmed := strings.TrimSpace(typed)
			if trimmed == "" {
				continue
			}
			n := 0
			negative := false
			for i, r := range trimmed {
				if i == 0 && r == '-' {
					negative = true
					continue
				}
				if r < '0' || r > '9' {
					n = -1
					break
				}
				n = n*10 + int(r-'0')
			}
			if n >= 0 {
				if negative {
					n = -n
				}
				return n, true
			}
		}
	}
	return 0, false
}

// SyncKeys 双向同步 map 中的两个键: 若 k1 缺失则从 k2 复制, 反之亦然。
// 用于 camelCase/snake_case 键兼容 (如 willRetry / will_retry)。
func SyncKeys(m map[string]any, k1, k2 string) {
	if m == nil {
		return
	}
	if _, exists := m[k1]; !exists {
		if v, ok := m[k2]; ok {
			m[k1] = v
		}
	}
	if _, exists := m[k2]; !exists {
		if v, ok := m[k1]; ok {
			m[k2] = v
		}
	}
}

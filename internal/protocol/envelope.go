// Package protocol 定义 agent runtime 的 JSON-RPC 2.0 信封与
// 入口处字段归一化 (多历史命名/嵌套形态 → 单一规范取值)。
//
// runtime 协议 (WebSocket JSON-RPC 2.0):
//   - Client → Server: {jsonrpc,id,method,params} (请求) 或 {jsonrpc,method,params} (通知)
//   - Server → Client: {jsonrpc,id,result} (响应) 或 {jsonrpc,method,params} (通知)
//
// 除本包之外, 任何组件不得再按命名变体分支取字段。
package protocol

import "encoding/json"

// RPCRequest JSON-RPC 2.0 请求。
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCMessage JSON-RPC 通用消息 (用于读取解析)。
type RPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"` // nil = 通知
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError JSON-RPC 错误。
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DecodeParams 将 raw params 解析为 map[string]any。
// 解析失败或为空时返回空 map, 调用方无需判 nil。
func DecodeParams(raw json.RawMessage) map[string]any {
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload
}

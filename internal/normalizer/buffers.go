// buffers.go — 按 item id 的流缓冲与 begin 时元数据快照。
//
// 五路独立流: 助手消息 / 推理 / 计划 / 命令输出 / 文件修改输出。
// 缓冲在首个 delta 到达时惰性创建, 在 item 终止或全量 Reset 时删除 —
// 每条终止路径都必须显式清理, 不依赖隐式回收。
package normalizer

import "strings"

// defaultReasoningKey 推理 delta 缺失 item id 时的固定缓冲键。
const defaultReasoningKey = "reasoning"

// execMetadata commandExecution begin 时捕获的元数据, end 时合并复用。
type execMetadata struct {
	Command      string
	Cwd          string
	AutoApproved bool
	ThreadID     string
	TurnID       string
}

// patchMetadata fileChange begin 时捕获的元数据。
type patchMetadata struct {
	Changes      map[string]any // path → change record
	AutoApproved bool
	ThreadID     string
	TurnID       string
}

// bufferStore 流缓冲与元数据的唯一属主。本身无锁 —
// 并发保护由持有方 Normalizer 的互斥锁承担。
type bufferStore struct {
	message   map[string]*strings.Builder
	reasoning map[string]*strings.Builder
	plan      map[string]*strings.Builder
	cmdOutput map[string]*strings.Builder
	patchOut  map[string]*strings.Builder

	execMeta  map[string]execMetadata
	patchMeta map[string]patchMetadata
}

func newBufferStore() *bufferStore {
	s := &bufferStore{}
	s.reset()
	return s
}

// reset 无条件清空全部缓冲与元数据。
func (s *bufferStore) reset() {
	s.message = make(map[string]*strings.Builder)
	s.reasoning = make(map[string]*strings.Builder)
	s.plan = make(map[string]*strings.Builder)
	s.cmdOutput = make(map[string]*strings.Builder)
	s.patchOut = make(map[string]*strings.Builder)
	s.execMeta = make(map[string]execMetadata)
	s.patchMeta = make(map[string]patchMetadata)
}

func appendTo(m map[string]*strings.Builder, id, delta string) {
	b, ok := m[id]
	if !ok {
		b = &strings.Builder{}
		m[id] = b
	}
	b.WriteString(delta)
}

func peek(m map[string]*strings.Builder, id string) string {
	if b, ok := m[id]; ok {
		return b.String()
	}
	return ""
}

func take(m map[string]*strings.Builder, id string) string {
	b, ok := m[id]
	if !ok {
		return ""
	}
	delete(m, id)
	return b.String()
}

// ========================================
// 按流族封装 — 调用方不直接碰 map
// ========================================

func (s *bufferStore) appendMessage(id, delta string) { appendTo(s.message, id, delta) }
func (s *bufferStore) takeMessage(id string) string   { return take(s.message, id) }

func (s *bufferStore) appendReasoning(id, delta string) {
	if id == "" {
		id = defaultReasoningKey
	}
	appendTo(s.reasoning, id, delta)
}

func (s *bufferStore) takeReasoning(id string) string {
	if id == "" {
		id = defaultReasoningKey
	}
	return take(s.reasoning, id)
}

func (s *bufferStore) appendPlan(id, delta string) { appendTo(s.plan, id, delta) }
func (s *bufferStore) peekPlan(id string) string   { return peek(s.plan, id) }
func (s *bufferStore) takePlan(id string) string   { return take(s.plan, id) }

// seedPlan 用显式文本覆盖初始化计划缓冲 (plan item start 时)。
func (s *bufferStore) seedPlan(id, text string) {
	b := &strings.Builder{}
	b.WriteString(text)
	s.plan[id] = b
}

func (s *bufferStore) appendCmdOutput(id, delta string) { appendTo(s.cmdOutput, id, delta) }
func (s *bufferStore) takeCmdOutput(id string) string   { return take(s.cmdOutput, id) }

func (s *bufferStore) appendPatchOutput(id, delta string) { appendTo(s.patchOut, id, delta) }
func (s *bufferStore) takePatchOutput(id string) string   { return take(s.patchOut, id) }

func (s *bufferStore) putExecMeta(id string, meta execMetadata) {
	s.execMeta[id] = meta
}

// takeExecMeta 取出并删除元数据, 不存在时返回零值。
func (s *bufferStore) takeExecMeta(id string) (execMetadata, bool) {
	meta, ok := s.execMeta[id]
	delete(s.execMeta, id)
	return meta, ok
}

func (s *bufferStore) hasExecMeta(id string) bool {
	_, ok := s.execMeta[id]
	return ok
}

func (s *bufferStore) putPatchMeta(id string, meta patchMetadata) {
	s.patchMeta[id] = meta
}

func (s *bufferStore) takePatchMeta(id string) (patchMetadata, bool) {
	meta, ok := s.patchMeta[id]
	delete(s.patchMeta, id)
	return meta, ok
}

func (s *bufferStore) hasPatchMeta(id string) bool {
	_, ok := s.patchMeta[id]
	return ok
}

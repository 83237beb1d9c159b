// processors.go — 协作器的透传默认实现。
//
// 推理/差异后处理的渲染属于前端职责; 这里只做原样转发,
// 让部署方可以在不替换编排器的情况下注入更重的实现。
package session

import (
	"strings"
	"sync"

	"github.com/multi-agent/session-bridge/internal/normalizer"
)

// ========================================
// 推理透传
// ========================================

// PassthroughReasoning 累积推理增量并原样转发给会话传输层。
type PassthroughReasoning struct {
	mu        sync.Mutex
	transport SessionTransport
	buf       strings.Builder
}

// NewPassthroughReasoning 创建。
func NewPassthroughReasoning(transport SessionTransport) *PassthroughReasoning {
	return &PassthroughReasoning{transport: transport}
}

// ProcessDelta 转发一段推理增量。
func (p *PassthroughReasoning) ProcessDelta(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	p.buf.WriteString(text)
	p.mu.Unlock()
	p.transport.Forward(normalizer.Event{
		Type:    normalizer.EventAgentReasoningDelta,
		Payload: map[string]any{"delta": text},
	})
}

// Complete 转发完整推理文本并清空缓冲。
func (p *PassthroughReasoning) Complete(text string) {
	p.mu.Lock()
	if text == "" {
		text = p.buf.String()
	}
	p.buf.Reset()
	p.mu.Unlock()
	if text == "" {
		return
	}
	p.transport.Forward(normalizer.Event{
		Type:    normalizer.EventAgentReasoning,
		Payload: map[string]any{"text": text},
	})
}

// HandleSectionBreak 转发分段标记。
func (p *PassthroughReasoning) HandleSectionBreak() {
	p.transport.Forward(normalizer.Event{
		Type:    normalizer.EventAgentReasoningSectionBreak,
		Payload: map[string]any{},
	})
}

// Abort 丢弃未完成的缓冲。
func (p *PassthroughReasoning) Abort() {
	p.mu.Lock()
	p.buf.Reset()
	p.mu.Unlock()
}

// ========================================
// 差异透传
// ========================================

// PassthroughDiff 转发工作区差异; 重复内容去抖。
type PassthroughDiff struct {
	mu        sync.Mutex
	transport SessionTransport
	last      string
}

// NewPassthroughDiff 创建。
func NewPassthroughDiff(transport SessionTransport) *PassthroughDiff {
	return &PassthroughDiff{transport: transport}
}

// ProcessDiff 转发差异全文。与上次相同时跳过。
func (p *PassthroughDiff) ProcessDiff(text string) {
	p.mu.Lock()
	same := text == p.last
	p.last = text
	p.mu.Unlock()
	if same || text == "" {
		return
	}
	p.transport.Forward(normalizer.Event{
		Type:    normalizer.EventTurnDiff,
		Payload: map[string]any{"diff": text},
	})
}

// Reset 清空去抖状态。
func (p *PassthroughDiff) Reset() {
	p.mu.Lock()
	p.last = ""
	p.mu.Unlock()
}

// ========================================
// 权限占位
// ========================================

// NoopPermissions 审批流由外部系统承担时的占位实现。
type NoopPermissions struct{}

// Reset 无状态, 无操作。
func (NoopPermissions) Reset() {}

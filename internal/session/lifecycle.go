// lifecycle.go — 回合生命周期追踪器。
package session

import (
	"strings"
	"sync"

	"github.com/multi-agent/session-bridge/internal/normalizer"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// State 会话状态机的显式状态。
type State int

const (
	StateIdle State = iota
	StateThreadPending
	StateTurnPending
	StateTurnActive
	StateAborting
)

// String 状态名 (日志用)。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThreadPending:
		return "thread_pending"
	case StateTurnPending:
		return "turn_pending"
	case StateTurnActive:
		return "turn_active"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Tracker 当前线程/回合身份与在途标志的唯一事实来源。
//
// 不变量: 每会话同一时刻至多一个在途回合。回合终止时在途标志清零、
// 活跃回合 id 清除, 但最近一次 id 保留 (resume 复用), 对应的
// plan-call 槽位必须同时关闭。
//
// 规范事件在 transport 读协程回调, 编排循环在自己的协程读取,
// 因此与 turn tracker 一样用互斥锁保护。
type Tracker struct {
	mu sync.Mutex

	state        State
	threadID     string
	turnID       string
	lastTurnID   string
	turnInFlight bool

	// planCalls 回合 id → 打开中的 plan 工具调用 id。
	// 保证 mid-turn 打开的合成 plan 调用在回合终止时恰好关闭一次。
	planCalls map[string]string
}

// NewTracker 创建生命周期追踪器。
func NewTracker() *Tracker {
	return &Tracker{planCalls: make(map[string]string)}
}

// Observe 根据规范事件推进状态机, 返回该事件是否为回合终止事件。
func (t *Tracker) Observe(ev normalizer.Event) (terminal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case normalizer.EventThreadStarted:
		id := strings.TrimSpace(ev.ThreadID)
		if id != "" && id != t.threadID {
			logger.Info("lifecycle: thread recorded",
				logger.FieldThreadID, id,
				"previous_thread_id", t.threadID,
			)
			t.threadID = id
		}
		if t.state == StateThreadPending {
			t.state = StateIdle
		}
		return false

	case normalizer.EventTaskStarted:
		if id := strings.TrimSpace(ev.TurnID); id != "" {
			t.turnID = id
			t.lastTurnID = id
		}
		t.turnInFlight = true
		t.state = StateTurnActive
		logger.Info("lifecycle: turn in flight",
			logger.FieldThreadID, t.threadID,
			logger.FieldTurnID, t.turnID,
		)
		return false

	case normalizer.EventTaskComplete, normalizer.EventTurnAborted, normalizer.EventTaskFailed:
		if t.turnID != "" {
			t.lastTurnID = t.turnID
		}
		t.turnID = ""
		t.turnInFlight = false
		t.state = StateIdle
		logger.Info("lifecycle: turn terminal",
			logger.FieldThreadID, t.threadID,
			logger.FieldTurnID, t.lastTurnID,
			logger.FieldEventType, ev.Type,
			logger.FieldStatus, ev.Status,
		)
		return true

	default:
		return false
	}
}

// ThreadID 当前线程 id, 无则空。
func (t *Tracker) ThreadID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadID
}

// TurnID 当前活跃回合 id, 无在途回合则空。
func (t *Tracker) TurnID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnID
}

// LastTurnID 最近一次回合 id (终止后仍保留)。
func (t *Tracker) LastTurnID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTurnID
}

// TurnInFlight 是否有在途回合。
func (t *Tracker) TurnInFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnInFlight
}

// State 当前状态。
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState 由编排循环在发起出站调用前设置过渡态。
func (t *Tracker) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// SetThread 替换当前线程 (新建或 resume 解析后)。清空回合侧状态。
func (t *Tracker) SetThread(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threadID = strings.TrimSpace(threadID)
	t.turnID = ""
	t.turnInFlight = false
	t.state = StateIdle
}

// ForgetThread 丢弃线程/回合身份 (意外故障后强制全新重启)。
func (t *Tracker) ForgetThread() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threadID = ""
	t.turnID = ""
	t.lastTurnID = ""
	t.turnInFlight = false
	t.state = StateIdle
}

// ========================================
// plan-call 槽位
// ========================================

// OpenPlanCall 记录回合的打开中 plan 调用, 已有槽位时返回既有 id 与 false。
func (t *Tracker) OpenPlanCall(turnID, callID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.planCalls[turnID]; ok {
		return existing, false
	}
	t.planCalls[turnID] = callID
	return callID, true
}

// TakePlanCall 取出并删除回合的 plan 调用 id。
func (t *Tracker) TakePlanCall(turnID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	callID, ok := t.planCalls[turnID]
	delete(t.planCalls, turnID)
	return callID, ok
}

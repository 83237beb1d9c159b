// orchestrator.go — 会话顶层编排循环。
//
// 单循环协作调度: 一次处理一批排队消息; runtime 通知以回调同步处理,
// 互不交错。挂起点只有两处 — 等待下一批消息、等待出站 RPC 完成 —
// 均可被当前取消域打断。每次 abort 建立全新取消域, 旧域的取消
// 不会波及后续操作。
package session

import (
	"context"
	"sync"

	"github.com/multi-agent/session-bridge/internal/normalizer"
	apperrors "github.com/multi-agent/session-bridge/pkg/errors"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// Deps 编排器的协作方集合。
type Deps struct {
	Queue       *MessageQueue
	Runtime     RuntimeClient
	Transport   SessionTransport
	Normalizer  *normalizer.Normalizer
	Reasoning   ReasoningProcessor
	Diff        DiffProcessor
	Permissions PermissionHandler
}

// Orchestrator 会话编排器。
type Orchestrator struct {
	queue       *MessageQueue
	runtime     RuntimeClient
	transport   SessionTransport
	norm        *normalizer.Normalizer
	tracker     *Tracker
	emitter     *Emitter
	reasoning   ReasoningProcessor
	diff        DiffProcessor
	permissions PermissionHandler

	mu             sync.Mutex
	parent         context.Context
	scope          context.Context
	scopeCancel    context.CancelFunc
	sessionCreated bool
	threadModeHash string
}

// NewOrchestrator 创建编排器及其内部的追踪器与发射器。
func NewOrchestrator(deps Deps) *Orchestrator {
	tracker := NewTracker()
	o := &Orchestrator{
		queue:       deps.Queue,
		runtime:     deps.Runtime,
		transport:   deps.Transport,
		norm:        deps.Normalizer,
		tracker:     tracker,
		emitter:     NewEmitter(tracker, deps.Transport, deps.Reasoning, deps.Diff),
		reasoning:   deps.Reasoning,
		diff:        deps.Diff,
		permissions: deps.Permissions,
	}
	return o
}

// Tracker 暴露生命周期追踪器 (只读用途: 路由打断请求、状态查询)。
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Run 主循环, 直到 ctx 结束。
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.parent = ctx
	o.mu.Unlock()
	o.resetScope()

	o.maybeReady()

	for {
		batch, err := o.queue.WaitForNextBatch(o.currentScope())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// abort 取消了旧域; Abort 已装好新域, 继续等待下一批。
			continue
		}
		o.processBatch(batch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// HandleNotification transport 读回路的通知入口。同步处理, 不阻塞 I/O。
func (o *Orchestrator) HandleNotification(method string, payload map[string]any) {
	for _, ev := range o.norm.HandleNotification(method, payload) {
		if o.emitter.HandleEvent(ev) {
			o.finishTurn()
		}
	}
}

// Abort 打断当前回合并复位全部回合内状态。
//
// 打断 RPC 失败只记日志, 绝不阻断后续序列; 序列无条件执行:
// 取消旧域 → 清队列 → 复位权限/推理/diff/缓冲 → 换新域。
func (o *Orchestrator) Abort(ctx context.Context) {
	threadID := o.tracker.ThreadID()
	turnID := o.tracker.TurnID()
	if threadID != "" && turnID != "" {
		o.tracker.SetState(StateAborting)
		if err := o.runtime.InterruptTurn(ctx, threadID, turnID); err != nil {
			logger.Warn("orchestrator: interrupt turn failed, abort sequence continues",
				logger.FieldThreadID, threadID,
				logger.FieldTurnID, turnID,
				logger.FieldError, err,
			)
		}
	}

	o.mu.Lock()
	cancel := o.scopeCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	o.queue.Reset()
	o.permissions.Reset()
	o.reasoning.Abort()
	o.diff.Reset()
	o.norm.Reset()
	o.transport.SetThinking(false)

	o.resetScope()
	o.maybeReady()
}

// ========================================
// 批次处理
// ========================================

func (o *Orchestrator) processBatch(batch []UserMessage) {
	scope := o.currentScope()

	// 模式变更: 活跃线程的模式与来件不符 → 本地拆除并重建线程,
	// 消息保留为待发送而非丢弃。
	modeHash := batchModeHash(batch)
	o.mu.Lock()
	created := o.sessionCreated
	activeHash := o.threadModeHash
	o.mu.Unlock()
	if created && o.tracker.ThreadID() != "" && modeHash != "" && modeHash != activeHash {
		logger.Info("orchestrator: mode hash changed, rebuilding thread",
			logger.FieldThreadID, o.tracker.ThreadID(),
			"active_mode_hash", activeHash,
			"incoming_mode_hash", modeHash,
		)
		o.teardownLocalState()
	}

	if err := o.ensureThread(scope, modeHash); err != nil {
		o.recoverFailure(err, "thread")
		return
	}

	o.runTurn(scope, batch)
}

// runTurn 发起一个回合并等待其被 runtime 受理/完成。
// 清理块必然执行, 不论成功、用户取消还是意外故障。
func (o *Orchestrator) runTurn(scope context.Context, batch []UserMessage) {
	defer o.finishTurn()

	o.transport.SetThinking(true)
	o.tracker.SetState(StateTurnPending)

	threadID := o.tracker.ThreadID()
	if err := o.runtime.StartTurn(scope, threadID, batch); err != nil {
		o.recoverFailure(err, "turn")
	}
}

// finishTurn 保证式清理: 复位权限/推理/diff/缓冲, 熄灭思考灯,
// 空闲时发 ready。
func (o *Orchestrator) finishTurn() {
	o.permissions.Reset()
	o.reasoning.Abort()
	o.diff.Reset()
	o.norm.Reset()
	o.transport.SetThinking(false)
	o.maybeReady()
}

// maybeReady 无在途回合且无积压消息时向 UI 发 ready。
func (o *Orchestrator) maybeReady() {
	if !o.tracker.TurnInFlight() && o.queue.Size() == 0 {
		o.transport.Ready()
	}
}

// ========================================
// 线程建立与恢复
// ========================================

// ensureThread 确保会话有可用线程: 已知线程 id 时先试 resume,
// 失败则降级为新建; 会话已建但线程 id 缺失时强制全新重建。
func (o *Orchestrator) ensureThread(ctx context.Context, modeHash string) error {
	o.mu.Lock()
	created := o.sessionCreated
	o.mu.Unlock()

	knownID := o.tracker.ThreadID()
	if created && knownID != "" {
		return nil
	}
	if created && knownID == "" {
		logger.Warn("orchestrator: session marked created but thread id missing, forcing restart")
		o.teardownLocalState()
	}

	o.tracker.SetState(StateThreadPending)

	var (
		threadID string
		err      error
	)
	if knownID != "" {
		threadID, err = o.runtime.ResumeThread(ctx, knownID)
		if err != nil {
			logger.Warn("orchestrator: resume failed, falling back to fresh thread",
				logger.FieldThreadID, knownID,
				logger.FieldError, err,
			)
			threadID, err = o.runtime.StartThread(ctx)
		}
	} else {
		threadID, err = o.runtime.StartThread(ctx)
	}
	if err != nil {
		o.tracker.SetState(StateIdle)
		return apperrors.Wrap(err, "Orchestrator.ensureThread", "establish thread")
	}

	o.tracker.SetThread(threadID)
	o.mu.Lock()
	o.sessionCreated = true
	o.threadModeHash = modeHash
	o.mu.Unlock()

	logger.Info("orchestrator: thread established",
		logger.FieldThreadID, threadID,
		"mode_hash", modeHash,
	)
	return nil
}

// teardownLocalState 本地拆除: 丢会话已建标记与线程身份, 复位回合内状态。
func (o *Orchestrator) teardownLocalState() {
	o.mu.Lock()
	o.sessionCreated = false
	o.threadModeHash = ""
	o.mu.Unlock()
	o.tracker.SetThread("")
	o.permissions.Reset()
	o.reasoning.Abort()
	o.diff.Reset()
	o.norm.Reset()
	o.transport.SetThinking(false)
}

// ========================================
// 故障恢复
// ========================================

// recoverFailure 按错误类别走恢复策略。
//
// 用户取消: 可恢复, 线程身份保留以便 resume, 仅告知 UI。
// 其他故障: 视作进程/协议意外失败, 丢弃线程/回合身份并清除
// 会话已建标记, 下一条消息将强制全新重启。
func (o *Orchestrator) recoverFailure(err error, phase string) {
	if apperrors.IsUserCancelled(err) {
		logger.Info("orchestrator: user cancellation, session identity preserved",
			"phase", phase,
			logger.FieldThreadID, o.tracker.ThreadID(),
		)
		o.transport.Forward(normalizer.Event{
			Type:     normalizer.EventTurnAborted,
			ThreadID: o.tracker.ThreadID(),
			Payload:  map[string]any{"reason": "aborted by user"},
		})
		return
	}

	logger.Error("orchestrator: unexpected transport failure, discarding session identity",
		"phase", phase,
		logger.FieldThreadID, o.tracker.ThreadID(),
		logger.FieldError, err,
	)
	o.transport.Forward(normalizer.Event{
		Type:     normalizer.EventTaskFailed,
		ThreadID: o.tracker.ThreadID(),
		Payload:  map[string]any{"error": "process exited unexpectedly: " + err.Error()},
	})
	o.tracker.ForgetThread()
	o.mu.Lock()
	o.sessionCreated = false
	o.threadModeHash = ""
	o.mu.Unlock()
}

// ========================================
// 取消域
// ========================================

func (o *Orchestrator) currentScope() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scope == nil {
		return context.Background()
	}
	return o.scope
}

// resetScope 建立全新取消域。旧域已取消也不影响新域。
func (o *Orchestrator) resetScope() {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.parent
	if parent == nil {
		parent = context.Background()
	}
	o.scope, o.scopeCancel = context.WithCancel(parent)
}

// batchModeHash 批次的模式哈希: 取最后一条非空。
func batchModeHash(batch []UserMessage) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].ModeHash != "" {
			return batch[i].ModeHash
		}
	}
	return ""
}

// Package transport runtime 的 WebSocket JSON-RPC 客户端。
//
// 职责: 连接管理、请求/响应配对、通知回调分发。协议语义 (归一化、
// 生命周期) 全部在上层, 本包只做 RPC 管道。
package transport

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/multi-agent/session-bridge/internal/protocol"
	"github.com/multi-agent/session-bridge/internal/session"
	apperrors "github.com/multi-agent/session-bridge/pkg/errors"
	"github.com/multi-agent/session-bridge/pkg/logger"
	"github.com/multi-agent/session-bridge/pkg/util"
)

const (
	handshakeTimeout  = 5 * time.Second
	readIdleTimeout   = 120 * time.Second
	pingInterval      = 30 * time.Second
	callTimeout       = 30 * time.Second
	turnStartTimeout  = 10 * time.Minute
	interruptTimeout  = 10 * time.Second
	initializeTimeout = 10 * time.Second
)

// NotificationHandler 入站通知回调。readLoop 内同步调用, 不得阻塞 I/O。
type NotificationHandler func(method string, payload map[string]any)

// pendingCall 等待响应的 JSON-RPC 调用。
type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// Client runtime WebSocket JSON-RPC 客户端。实现 session.RuntimeClient。
type Client struct {
	url     string
	handler NotificationHandler

	wsMu    sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Int64
	pending sync.Map // id → *pendingCall
	stopped atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient 创建客户端, handler 接收全部入站通知。
func NewClient(url string, handler NotificationHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     url,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect 建立连接、完成 initialize 握手并启动读/心跳回路。
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return apperrors.Wrap(err, "Client.Connect", "ws connect")
	}
	c.replaceConn(conn)
	util.SafeGo(func() { c.readLoop() })
	util.SafeGo(func() { c.pingLoop(conn) })

	if _, err := c.call(ctx, "initialize", map[string]any{
		"clientInfo": map[string]any{
			"name":    "session-bridge",
			"version": "1.0",
		},
	}, initializeTimeout); err != nil {
		return apperrors.Wrap(err, "Client.Connect", "initialize")
	}
	logger.Info("transport: connected", "url", c.url)
	return nil
}

// Close 停止客户端并关闭连接。
func (c *Client) Close() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.wsMu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.wsMu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})
	return conn, nil
}

func (c *Client) replaceConn(conn *websocket.Conn) {
	c.wsMu.Lock()
	prev := c.ws
	c.ws = conn
	c.wsMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws
}

// ========================================
// 读回路
// ========================================

// readLoop 持续读取 JSON-RPC 消息。
//
// 消息类型:
//   - Response (id != nil, 无 method): 交给 pending call
//   - Notification (method != ""): 解参后交给 handler
func (c *Client) readLoop() {
	conn := c.currentConn()
	if conn == nil {
		return
	}
	for !c.stopped.Load() {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped.Load() {
				logger.Warn("transport: read loop terminated", logger.FieldError, err)
				if c.handler != nil {
					c.handler("error", map[string]any{
						"message": "transport read failed: " + err.Error(),
					})
				}
			}
			return
		}

		var msg protocol.RPCMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("transport: unparseable JSON-RPC message",
				logger.FieldError, err,
				"raw_prefix", util.TruncateBytes(message, 200),
			)
			continue
		}

		if c.dispatchResponse(msg) {
			continue
		}
		if msg.Method != "" && c.handler != nil {
			c.handler(msg.Method, protocol.DecodeParams(msg.Params))
		}
	}
}

func (c *Client) dispatchResponse(msg protocol.RPCMessage) bool {
	if msg.ID == nil || msg.Method != "" {
		return false
	}
	value, ok := c.pending.Load(*msg.ID)
	if !ok {
		logger.Warn("transport: orphan RPC response", "rpc_id", *msg.ID)
		return true
	}
	pc := value.(*pendingCall)
	if msg.Error != nil {
		pc.err = apperrors.Newf("Client.readLoop", "rpc error: %s (code %d)", msg.Error.Message, msg.Error.Code)
	} else {
		pc.result = msg.Result
	}
	close(pc.done)
	return true
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.currentConn() != conn {
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				logger.Warn("transport: ping failed", logger.FieldError, err)
				return
			}
		}
	}
}

// ========================================
// JSON-RPC 请求/响应
// ========================================

// call 发送请求并等待响应, 受调用方 ctx 与超时双重约束。
func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.writeJSON(protocol.RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-pc.done:
		return pc.result, pc.err
	case <-timer.C:
		return nil, apperrors.Wrapf(apperrors.ErrTimeout, "Client.call", "%s timeout", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, apperrors.ErrNotConnected
	}
}

// writeJSON 串行化写入 WebSocket。
func (c *Client) writeJSON(v any) error {
	conn := c.currentConn()
	if conn == nil {
		return apperrors.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// ========================================
// session.RuntimeClient 实现
// ========================================

// StartThread 新建线程。
func (c *Client) StartThread(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "thread/start", map[string]any{}, callTimeout)
	if err != nil {
		return "", apperrors.Wrap(err, "Client.StartThread", "thread/start")
	}
	id, err := parseThreadResult(result)
	if err != nil {
		return "", apperrors.Wrapf(err, "Client.StartThread", "decode thread/start result (raw: %s)", result)
	}
	logger.Info("transport: thread started", logger.FieldThreadID, id)
	return id, nil
}

// ResumeThread 恢复线程, 返回 runtime 解析出的线程 id。
func (c *Client) ResumeThread(ctx context.Context, threadID string) (string, error) {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "Client.ResumeThread", "thread id required")
	}
	result, err := c.call(ctx, "thread/resume", map[string]any{"threadId": id}, callTimeout)
	if err != nil {
		return "", apperrors.Wrap(err, "Client.ResumeThread", "thread/resume")
	}
	resolved, parseErr := parseThreadResult(result)
	if parseErr != nil || resolved == "" {
		// 部分 runtime 版本 resume 响应不回显 id, 沿用入参。
		resolved = id
	}
	logger.Info("transport: thread resumed",
		logger.FieldThreadID, resolved,
		"requested_thread_id", id,
	)
	return resolved, nil
}

// StartTurn 在线程内开启回合。阻塞至 runtime 返回 turn/start 响应。
func (c *Client) StartTurn(ctx context.Context, threadID string, input []session.UserMessage) error {
	inputs := buildTurnInputs(input)
	logger.Info("transport: turn/start",
		logger.FieldThreadID, threadID,
		"input_count", len(inputs),
	)
	_, err := c.call(ctx, "turn/start", map[string]any{
		"threadId": strings.TrimSpace(threadID),
		"input":    inputs,
	}, turnStartTimeout)
	if err != nil {
		return apperrors.Wrap(err, "Client.StartTurn", "turn/start")
	}
	return nil
}

// InterruptTurn 打断在途回合。
//
// 先发回合级打断; runtime 回 turn id 不匹配时降级为线程级打断 —
// 活跃回合可能已被新回合顶替, 线程级打断仍能命中。
func (c *Client) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Client.InterruptTurn", "thread id required")
	}

	tryInterrupt := func(withTurnID bool) error {
		params := map[string]any{"threadId": id}
		if withTurnID {
			params["turnId"] = strings.TrimSpace(turnID)
		}
		_, err := c.call(ctx, "turn/interrupt", params, interruptTimeout)
		return err
	}

	if strings.TrimSpace(turnID) != "" {
		err := tryInterrupt(true)
		if err == nil {
			logger.Info("transport: turn/interrupt OK",
				logger.FieldThreadID, id,
				logger.FieldTurnID, turnID,
			)
			return nil
		}
		if !isTurnIDMismatchError(err) {
			return apperrors.Wrap(err, "Client.InterruptTurn", "turn/interrupt")
		}
		logger.Warn("transport: turn id mismatch, retrying thread-scoped interrupt",
			logger.FieldThreadID, id,
			logger.FieldTurnID, turnID,
			logger.FieldError, err,
		)
	}

	if err := tryInterrupt(false); err != nil {
		return apperrors.Wrap(err, "Client.InterruptTurn", "thread-scoped turn/interrupt")
	}
	logger.Info("transport: thread-scoped turn/interrupt OK", logger.FieldThreadID, id)
	return nil
}

// ========================================
// 协议辅助
// ========================================

// parseThreadResult thread/start 与 thread/resume 响应的线程 id。
func parseThreadResult(result json.RawMessage) (string, error) {
	if len(result) == 0 {
		return "", nil
	}
	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(resp.Thread.ID); id != "" {
		return id, nil
	}
	return strings.TrimSpace(resp.ThreadID), nil
}

// turnInput turn/start 输入项。
type turnInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

func isRemoteImageURL(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(value, "http://"),
		strings.HasPrefix(value, "https://"),
		strings.HasPrefix(value, "data:image/"):
		return true
	default:
		return false
	}
}

// buildTurnInputs 批次消息 → turn/start 输入项。文本合并为段落,
// 图片按 URL/本地路径区分类型。
func buildTurnInputs(batch []session.UserMessage) []turnInput {
	var texts []string
	var images []string
	for _, msg := range batch {
		if text := strings.TrimSpace(msg.Text); text != "" {
			texts = append(texts, text)
		}
		for _, img := range msg.Images {
			if path := strings.TrimSpace(img); path != "" {
				images = append(images, path)
			}
		}
	}

	inputs := make([]turnInput, 0, 1+len(images))
	if len(texts) > 0 || len(images) == 0 {
		inputs = append(inputs, turnInput{Type: "text", Text: strings.Join(texts, "\n\n")})
	}
	for _, img := range images {
		if isRemoteImageURL(img) {
			inputs = append(inputs, turnInput{Type: "image", URL: img})
			continue
		}
		inputs = append(inputs, turnInput{Type: "localImage", Path: img})
	}
	return inputs
}

func isTurnIDMismatchError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "turn not found") ||
		strings.Contains(text, "unknown turn") ||
		strings.Contains(text, "invalid turn") ||
		(strings.Contains(text, "turn") && strings.Contains(text, "mismatch"))
}

// queue.go — 用户消息队列。
package session

import (
	"context"
	"sync"
)

// UserMessage 一条排队的用户消息。ModeHash 标识发送时的操作模式,
// 与活跃线程创建时的模式不一致将触发线程重建。
type UserMessage struct {
	Text     string   `json:"text"`
	ModeHash string   `json:"mode_hash,omitempty"`
	Images   []string `json:"images,omitempty"`
}

// MessageQueue 编排循环的入站队列。Push 可来自任意协程,
// WaitForNextBatch 仅由编排循环调用, 一次取走全部积压。
type MessageQueue struct {
	mu     sync.Mutex
	items  []UserMessage
	notify chan struct{}
}

// NewMessageQueue 创建消息队列。
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{notify: make(chan struct{}, 1)}
}

// Push 入队一条消息并唤醒等待方。
func (q *MessageQueue) Push(msg UserMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// WaitForNextBatch 阻塞等待下一批消息, ctx 取消时返回其错误。
// 返回的批次至少含一条消息。
func (q *MessageQueue) WaitForNextBatch(ctx context.Context) ([]UserMessage, error) {
	for {
		if batch := q.drain(); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MessageQueue) drain() []UserMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch
}

// Size 当前积压条数。
func (q *MessageQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset 丢弃全部积压 (abort 序列的一环)。
func (q *MessageQueue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	// 清掉可能残留的唤醒信号, 避免下一轮空转
	select {
	case <-q.notify:
	default:
	}
}

package session

import (
	"context"
	"testing"
	"time"
)

func TestMessageQueue_BatchDrainsAll(t *testing.T) {
	q := NewMessageQueue()
	q.Push(UserMessage{Text: "one"})
	q.Push(UserMessage{Text: "two"})

	batch, err := q.WaitForNextBatch(context.Background())
	if err != nil {
		t.Fatalf("WaitForNextBatch: %v", err)
	}
	if len(batch) != 2 || batch[0].Text != "one" || batch[1].Text != "two" {
		t.Errorf("batch = %v", batch)
	}
	if q.Size() != 0 {
		t.Errorf("Size = %d after drain", q.Size())
	}
}

func TestMessageQueue_WaitWakesOnPush(t *testing.T) {
	q := NewMessageQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(UserMessage{Text: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := q.WaitForNextBatch(ctx)
	if err != nil {
		t.Fatalf("WaitForNextBatch: %v", err)
	}
	if len(batch) != 1 || batch[0].Text != "late" {
		t.Errorf("batch = %v", batch)
	}
}

func TestMessageQueue_WaitCancellable(t *testing.T) {
	q := NewMessageQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.WaitForNextBatch(ctx); err == nil {
		t.Error("cancelled wait should return error")
	}
}

func TestMessageQueue_ResetDiscardsBacklog(t *testing.T) {
	q := NewMessageQueue()
	q.Push(UserMessage{Text: "stale"})
	q.Reset()
	if q.Size() != 0 {
		t.Errorf("Size = %d after reset", q.Size())
	}

	// 残留唤醒信号被清除: 取消的等待立即返回而非空转
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.WaitForNextBatch(ctx); err == nil {
		t.Error("wait after reset should block until ctx deadline")
	}
}

// transcript.go — transcript_events 表 CRUD (规范事件转录持久化)。
//
// 归一化后的规范事件按线程落库, 支持前端按 threadID 加载历史与关键词检索。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TranscriptEvent 一条落库的规范事件。
type TranscriptEvent struct {
	ID        int64           `db:"id" json:"id"`
	ThreadID  string          `db:"thread_id" json:"threadId"`
	TurnID    string          `db:"turn_id" json:"turnId"`
	ItemID    string          `db:"item_id" json:"itemId"`
	EventType string          `db:"event_type" json:"eventType"`
	Status    string          `db:"status" json:"status"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// TranscriptStore transcript_events 存储。
type TranscriptStore struct{ BaseStore }

// NewTranscriptStore 创建。
func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{NewBaseStore(pool)}
}

const teCols = "id, thread_id, turn_id, item_id, event_type, status, payload, created_at"

// Insert 写入单条事件。
func (s *TranscriptStore) Insert(ctx context.Context, ev *TranscriptEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_events (thread_id, turn_id, item_id, event_type, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ThreadID, ev.TurnID, ev.ItemID, ev.EventType, ev.Status, ev.Payload, ev.CreatedAt)
	return err
}

// ListByThread 按 threadID 查询历史事件 (最新在前, 游标分页)。
//
//	before=0 → 从最新开始; before>0 → id < before
func (s *TranscriptStore) ListByThread(ctx context.Context, threadID string, limit int, before int64) ([]TranscriptEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var sql string
	var args []any
	if before > 0 {
		sql = "SELECT " + teCols + " FROM transcript_events WHERE thread_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3"
		args = []any{threadID, before, limit}
	} else {
		sql = "SELECT " + teCols + " FROM transcript_events WHERE thread_id=$1 ORDER BY id DESC LIMIT $2"
		args = []any{threadID, limit}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows[TranscriptEvent](rows)
}

// Search 按线程/事件类型过滤 + payload 关键词检索。
func (s *TranscriptStore) Search(ctx context.Context, threadID, eventType, keyword string, limit int) ([]TranscriptEvent, error) {
	qb := NewQueryBuilder().
		Eq("thread_id", threadID).
		Eq("event_type", eventType).
		KeywordLike(keyword, "payload::text", "item_id")
	sql, params := qb.Build("SELECT "+teCols+" FROM transcript_events", "id DESC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return collectRows[TranscriptEvent](rows)
}

// CountByThread 统计某线程的事件总数。
func (s *TranscriptStore) CountByThread(ctx context.Context, threadID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transcript_events WHERE thread_id=$1", threadID).Scan(&count)
	return count, err
}

// DeleteByThread 删除某线程的全部事件。
func (s *TranscriptStore) DeleteByThread(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM transcript_events WHERE thread_id=$1", threadID)
	return err
}

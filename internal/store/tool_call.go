// tool_call.go — tool_calls 表 CRUD (工具调用关联记录)。
//
// begin 时 upsert、end 时补全结果; call_id 是 begin/end 的关联键,
// 同一 call_id 只保留一行。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ToolCallRecord 一次工具调用的完整记录。
type ToolCallRecord struct {
	CallID      string          `db:"call_id" json:"callId"`
	ThreadID    string          `db:"thread_id" json:"threadId"`
	TurnID      string          `db:"turn_id" json:"turnId"`
	Name        string          `db:"name" json:"name"`
	Input       json.RawMessage `db:"input" json:"input,omitempty"`
	Output      json.RawMessage `db:"output" json:"output,omitempty"`
	IsError     bool            `db:"is_error" json:"isError"`
	StartedAt   time.Time       `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
}

// ToolCallStore tool_calls 存储。
type ToolCallStore struct{ BaseStore }

// NewToolCallStore 创建。
func NewToolCallStore(pool *pgxpool.Pool) *ToolCallStore {
	return &ToolCallStore{NewBaseStore(pool)}
}

const tcCols = "call_id, thread_id, turn_id, name, input, output, is_error, started_at, completed_at"

// RecordBegin 记录 begin 半边。重复 begin (同 call_id) 覆盖输入快照。
func (s *ToolCallStore) RecordBegin(ctx context.Context, rec *ToolCallRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_calls (call_id, thread_id, turn_id, name, input, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (call_id) DO UPDATE
		 SET thread_id = EXCLUDED.thread_id,
		     turn_id   = EXCLUDED.turn_id,
		     name      = EXCLUDED.name,
		     input     = EXCLUDED.input,
		     started_at = EXCLUDED.started_at`,
		rec.CallID, rec.ThreadID, rec.TurnID, rec.Name, rec.Input, rec.StartedAt)
	return err
}

// RecordEnd 补全 end 半边。begin 未落库时插入仅含结果的行 (completion without start)。
func (s *ToolCallStore) RecordEnd(ctx context.Context, callID string, output json.RawMessage, isError bool) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_calls (call_id, output, is_error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (call_id) DO UPDATE
		 SET output = EXCLUDED.output,
		     is_error = EXCLUDED.is_error,
		     completed_at = EXCLUDED.completed_at`,
		callID, output, isError, now)
	return err
}

// ListByThread 按线程列出调用记录 (最新在前)。
func (s *ToolCallStore) ListByThread(ctx context.Context, threadID string, limit int) ([]ToolCallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+tcCols+" FROM tool_calls WHERE thread_id=$1 ORDER BY started_at DESC LIMIT $2",
		threadID, limit)
	if err != nil {
		return nil, err
	}
	return collectRows[ToolCallRecord](rows)
}

// Get 按 call_id 查询, 不存在返回 nil。
func (s *ToolCallStore) Get(ctx context.Context, callID string) (*ToolCallRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+tcCols+" FROM tool_calls WHERE call_id=$1", callID)
	if err != nil {
		return nil, err
	}
	return collectOne[ToolCallRecord](rows)
}

// ListOpenByThread 列出未完成的调用 (悬挂诊断)。
func (s *ToolCallStore) ListOpenByThread(ctx context.Context, threadID string) ([]ToolCallRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+tcCols+" FROM tool_calls WHERE thread_id=$1 AND completed_at IS NULL ORDER BY started_at",
		threadID)
	if err != nil {
		return nil, err
	}
	return collectRows[ToolCallRecord](rows)
}

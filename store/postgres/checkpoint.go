package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// CheckpointStore is the durable conversation store: history survives
// process restarts, keyed by thread. Appends within a turn happen in
// one transaction.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a store over an existing pool. Run
// migrations first.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// History returns all messages for a thread in append order.
func (s *CheckpointStore) History(ctx context.Context, threadID string) ([]workflow.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, tool_name, tool_invocations, annotations, created_at
		FROM conversation_messages
		WHERE thread_id = $1
		ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []workflow.Message
	for rows.Next() {
		var (
			m           workflow.Message
			role        string
			invocations []byte
			annotations []byte
			createdAt   time.Time
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.ToolName, &invocations, &annotations, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = workflow.Role(role)
		m.CreatedAt = createdAt
		if len(invocations) > 0 {
			if err := json.Unmarshal(invocations, &m.ToolInvocations); err != nil {
				return nil, fmt.Errorf("decode tool invocations: %w", err)
			}
		}
		if len(annotations) > 0 {
			if err := json.Unmarshal(annotations, &m.Annotations); err != nil {
				return nil, fmt.Errorf("decode annotations: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Append atomically appends messages to a thread.
func (s *CheckpointStore) Append(ctx context.Context, threadID string, msgs ...workflow.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_threads (thread_id) VALUES ($1)
			ON CONFLICT (thread_id) DO NOTHING`, threadID); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			invocations, err := json.Marshal(m.ToolInvocations)
			if err != nil {
				return fmt.Errorf("encode tool invocations: %w", err)
			}
			annotations, err := json.Marshal(m.Annotations)
			if err != nil {
				return fmt.Errorf("encode annotations: %w", err)
			}
			createdAt := m.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_messages
					(id, thread_id, role, content, tool_name, tool_invocations, annotations, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				m.ID, threadID, string(m.Role), m.Content, m.ToolName, invocations, annotations, createdAt,
			); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return nil
	})
}

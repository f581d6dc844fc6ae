package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// PGAuditStore implements store.AuditStore backed by Postgres.
type PGAuditStore struct {
	db *sql.DB
}

func NewPGAuditStore(db *sql.DB) *PGAuditStore {
	return &PGAuditStore{db: db}
}

func (s *PGAuditStore) SaveTurn(ctx context.Context, rec turn.Record) error {
	reasoning, _ := json.Marshal(rec.Reasoning)
	fragments, _ := json.Marshal(rec.Fragments)
	dispatches, err := json.Marshal(rec.Dispatches)
	if err != nil {
		return fmt.Errorf("encode dispatches: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turn_records (id, actor_id, raw_message, normalized_message, intents, pending,
			urgency, reasoning, fragments, dispatches, terminal_reason, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		rec.TurnID, rec.ActorID, rec.RawMessage, rec.NormalizedMessage,
		pq.Array(labelsToStrings(rec.Intents)), pq.Array(labelsToStrings(rec.Pending)),
		int(rec.Urgency), reasoning, fragments, dispatches, rec.TerminalReason,
		rec.CreatedAt, nilTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert turn %s: %w", rec.TurnID, err)
	}
	return nil
}

func (s *PGAuditStore) ListTurns(ctx context.Context, actorID string, limit int) ([]turn.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, raw_message, normalized_message, intents, pending, urgency,
			reasoning, fragments, dispatches, terminal_reason, created_at, finished_at
		 FROM turn_records WHERE actor_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []turn.Record
	for rows.Next() {
		var (
			rec                              turn.Record
			intents, pending                 []string
			urgency                          int
			reasoning, fragments, dispatches []byte
			finished                         sql.NullTime
		)
		if err := rows.Scan(
			&rec.TurnID, &rec.ActorID, &rec.RawMessage, &rec.NormalizedMessage,
			pq.Array(&intents), pq.Array(&pending), &urgency,
			&reasoning, &fragments, &dispatches, &rec.TerminalReason,
			&rec.CreatedAt, &finished,
		); err != nil {
			return nil, err
		}
		rec.Intents = labelsFromStrings(intents)
		rec.Pending = labelsFromStrings(pending)
		rec.Urgency = turn.Clamp(urgency)
		_ = json.Unmarshal(reasoning, &rec.Reasoning)
		_ = json.Unmarshal(fragments, &rec.Fragments)
		_ = json.Unmarshal(dispatches, &rec.Dispatches)
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

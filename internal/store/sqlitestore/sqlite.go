// Package sqlitestore is the single-file backend used in standalone mode.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

//go:embed schema.sql
var schema string

// DB implements both store.AuditStore and store.ActorStore.
type DB struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; sqlite serializes anyway and :memory: is per-connection.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("database opened", "path", path)
	return &DB{db: sqlDB}, nil
}

// NewStores wraps Open in a store.Stores.
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "data/intentrouter.db"
	}
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{Audit: d, Actors: d, Close: d.Close}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) SaveTurn(ctx context.Context, rec turn.Record) error {
	intents, _ := json.Marshal(rec.Intents)
	pending, _ := json.Marshal(rec.Pending)
	reasoning, _ := json.Marshal(rec.Reasoning)
	fragments, _ := json.Marshal(rec.Fragments)
	dispatches, err := json.Marshal(rec.Dispatches)
	if err != nil {
		return fmt.Errorf("encode dispatches: %w", err)
	}

	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO turn_records (id, actor_id, raw_message, normalized_message, intents, pending,
			urgency, reasoning, fragments, dispatches, terminal_reason, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.ActorID, rec.RawMessage, rec.NormalizedMessage, string(intents), string(pending),
		int(rec.Urgency), string(reasoning), string(fragments), string(dispatches), rec.TerminalReason,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), finished,
	)
	if err != nil {
		return fmt.Errorf("insert turn %s: %w", rec.TurnID, err)
	}
	return nil
}

func (d *DB) ListTurns(ctx context.Context, actorID string, limit int) ([]turn.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, actor_id, raw_message, normalized_message, intents, pending, urgency,
			reasoning, fragments, dispatches, terminal_reason, created_at, finished_at
		 FROM turn_records WHERE actor_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []turn.Record
	for rows.Next() {
		var (
			rec              turn.Record
			intents, pending string
			reasoning, frags string
			dispatches       string
			urgency          int
			created          string
			finished         sql.NullString
		)
		if err := rows.Scan(
			&rec.TurnID, &rec.ActorID, &rec.RawMessage, &rec.NormalizedMessage,
			&intents, &pending, &urgency, &reasoning, &frags, &dispatches,
			&rec.TerminalReason, &created, &finished,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(intents), &rec.Intents)
		_ = json.Unmarshal([]byte(pending), &rec.Pending)
		_ = json.Unmarshal([]byte(reasoning), &rec.Reasoning)
		_ = json.Unmarshal([]byte(frags), &rec.Fragments)
		_ = json.Unmarshal([]byte(dispatches), &rec.Dispatches)
		rec.Urgency = turn.Clamp(urgency)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *DB) LoadActor(ctx context.Context, actorID string) (*store.ActorState, error) {
	var pending, history, updated string
	st := store.ActorState{ActorID: actorID}
	err := d.db.QueryRowContext(ctx,
		`SELECT pending, history, turns, updated_at FROM actor_states WHERE actor_id = ?`, actorID,
	).Scan(&pending, &history, &st.Turns, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load actor %s: %w", actorID, err)
	}
	if err := json.Unmarshal([]byte(pending), &st.Pending); err != nil {
		return nil, fmt.Errorf("decode pending for %s: %w", actorID, err)
	}
	if err := json.Unmarshal([]byte(history), &st.History); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", actorID, err)
	}
	st.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	return &st, nil
}

func (d *DB) SaveActor(ctx context.Context, st store.ActorState) error {
	pending, _ := json.Marshal(st.Pending)
	history, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO actor_states (actor_id, pending, history, turns, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id) DO UPDATE SET
			pending = excluded.pending, history = excluded.history,
			turns = excluded.turns, updated_at = excluded.updated_at`,
		st.ActorID, string(pending), string(history), st.Turns, st.Updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save actor %s: %w", st.ActorID, err)
	}
	return nil
}

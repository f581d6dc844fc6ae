package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
)

// PGActorStore implements store.ActorStore backed by Postgres.
type PGActorStore struct {
	db *sql.DB
}

func NewPGActorStore(db *sql.DB) *PGActorStore {
	return &PGActorStore{db: db}
}

func (s *PGActorStore) LoadActor(ctx context.Context, actorID string) (*store.ActorState, error) {
	var (
		st      = store.ActorState{ActorID: actorID}
		pending []string
		history []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pending, history, turns, updated_at FROM actor_states WHERE actor_id = $1`,
		actorID,
	).Scan(pq.Array(&pending), &history, &st.Turns, &st.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load actor %s: %w", actorID, err)
	}

	st.Pending = labelsFromStrings(pending)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &st.History); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", actorID, err)
		}
	}
	return &st, nil
}

func (s *PGActorStore) SaveActor(ctx context.Context, st store.ActorState) error {
	historyJSON, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actor_states (actor_id, pending, history, turns, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (actor_id) DO UPDATE SET
			pending = EXCLUDED.pending, history = EXCLUDED.history,
			turns = EXCLUDED.turns, updated_at = EXCLUDED.updated_at`,
		st.ActorID, pq.Array(labelsToStrings(st.Pending)), historyJSON, st.Turns, st.Updated,
	)
	if err != nil {
		return fmt.Errorf("save actor %s: %w", st.ActorID, err)
	}
	return nil
}

func labelsToStrings(ls []intent.Label) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.String())
	}
	return out
}

func labelsFromStrings(ss []string) []intent.Label {
	out := make([]intent.Label, 0, len(ss))
	for _, s := range ss {
		if l, ok := intent.Parse(s); ok {
			out = append(out, l)
		}
	}
	return out
}

package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Backend     string // "sqlite" (default), "postgres" or "memory"
	SQLitePath  string
	PostgresDSN string
}

// Stores is the top-level container for all storage backends.
// Both are nil in memory mode.
type Stores struct {
	Audit  AuditStore
	Actors ActorStore
	Close  func() error
}

// AuditStore persists finished turns.
type AuditStore interface {
	SaveTurn(ctx context.Context, rec turn.Record) error
	ListTurns(ctx context.Context, actorID string, limit int) ([]turn.Record, error)
}

// ActorState is what survives between turns of one actor: intents left
// unresolved by the last turn and a bounded tail of conversation history.
type ActorState struct {
	ActorID string              `json:"actor_id"`
	Pending []intent.Label      `json:"pending,omitempty"`
	History []turn.HistoryEntry `json:"history,omitempty"`
	Turns   int                 `json:"turns"`
	Updated time.Time           `json:"updated"`
}

// ActorStore persists ActorState so carry-over survives restarts.
type ActorStore interface {
	// LoadActor returns nil, nil when the actor is unknown.
	LoadActor(ctx context.Context, actorID string) (*ActorState, error)
	SaveActor(ctx context.Context, st ActorState) error
}

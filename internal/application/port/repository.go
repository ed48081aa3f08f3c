package port

import (
	"context"

	"xledger/internal/domain/model"
)

// MutateFunc edits a record in place. Returning false leaves the stored row
// untouched; returning an error aborts the mutation.
type MutateFunc func(tx *model.Transaction) (bool, error)

// LedgerStore is durable keyed storage for transactions. Every write is
// atomic for a single record; no call spans records transactionally.
type LedgerStore interface {
	// Lookups return model.ErrNotFound when nothing matches.
	Get(ctx context.Context, account, id string) (*model.Transaction, error)
	FindByNaturalKey(ctx context.Context, account, key string) (*model.Transaction, error)

	// Insert assigns tx.ID (when empty) and timestamps. A second insert of
	// the same natural key fails with model.ErrDuplicateKey.
	Insert(ctx context.Context, tx *model.Transaction) error

	// Mutate runs fn against the current row under a per-record lock and
	// writes the result back when fn reports a change.
	Mutate(ctx context.Context, account, id string, fn MutateFunc) (*model.Transaction, error)

	// Delete reports false when id did not exist.
	Delete(ctx context.Context, account, id string) (bool, error)

	// Query returns one keyset page plus metrics over the whole filtered
	// set, read from a single snapshot.
	Query(ctx context.Context, q model.Query) (*model.Page, error)

	Close() error
}

// CheckpointStore persists the per-account sync resume point.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, account string) (model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// Ledger is what the SQL and in-memory backends provide.
type Ledger interface {
	LedgerStore
	CheckpointStore
}

// Package store keeps an append-only ledger of evaluation runs. The ledger
// is never read back by the evaluation itself.
package store

import "context"

// DefaultDBPath is the default relative path of the history database.
// Open creates the parent directory if needed.
const DefaultDBPath = ".evalgate/history.db"

// Run is one recorded evaluation.
type Run struct {
	ID             int64
	RunID          string
	InputDigest    string
	Allowed        bool
	GoldenPassRate float64
	FailingRules   int
	RecordedAt     string // RFC 3339, UTC
}

// Store is the ledger facade. Open returns the SQLite implementation.
type Store interface {
	Record(ctx context.Context, r *Run) (int64, error)
	List(ctx context.Context) ([]*Run, error)
	Close() error
}

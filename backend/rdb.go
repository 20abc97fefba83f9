package backend

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// RDB is the tabular-engine backend contract: register in-memory tables,
// run ad-hoc SQL, and release the connection. Commit is optional — most
// backends persist nothing and implement it as a no-op.
type RDB interface {
	// Register exposes table under name so subsequent SQL can reference it.
	Register(ctx context.Context, name string, table arrow.Table) error
	// Execute runs sql and returns a cursor over the result.
	Execute(ctx context.Context, sql string) (Cursor, error)
	// Close releases the connection. Idempotent.
	Close(ctx context.Context) error
	// Commit persists current state to a configured durable file system.
	// A no-op for backends with nothing to persist.
	Commit(ctx context.Context) error
}

// Cursor is the result of one Execute call.
type Cursor interface {
	// Arrow materialises the full result as a columnar table.
	Arrow(ctx context.Context) (arrow.Table, error)
	// DataFrame materialises the full result as a row-oriented view.
	DataFrame(ctx context.Context) (DataFrame, error)
	// Close releases cursor-held resources. Idempotent.
	Close() error
}

// Package kvstore is the bulk record store that thread assembly reads nested
// records from and writes flattened threads to.
package kvstore

import (
	"context"
	"errors"

	"github.com/agentic-research/rethread/internal/graph"
)

var ErrRecordNotFound = errors.New("record not found")

// Record is a named byte buffer, the unit of every bulk operation.
type Record struct {
	Name graph.Name
	Data []byte
}

// Store is the contract of the external record store. Each call is one
// batch: it either applies completely or fails as a whole.
type Store interface {
	// BulkGet returns one record per name, in request order.
	BulkGet(ctx context.Context, names []graph.Name) ([]Record, error)
	// BulkSet inserts or overwrites every record.
	BulkSet(ctx context.Context, records []Record) error
	// BulkRemove deletes every named record.
	BulkRemove(ctx context.Context, names []graph.Name) error
}

// Replacer is implemented by stores that can remove and insert records in a
// single batch.
type Replacer interface {
	BulkReplace(ctx context.Context, remove []graph.Name, set []Record) error
}

// Lister is implemented by stores that can enumerate their record names.
type Lister interface {
	List(ctx context.Context) ([]graph.Name, error)
}

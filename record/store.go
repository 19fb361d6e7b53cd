package record

import (
	"context"

	"github.com/pricetrack/storemesh/id"
)

// Store is the record store contract. Backends must provide
// read-your-writes on the inserting connection.
type Store interface {
	// Insert persists a new record. Inserting an ID that already exists
	// returns storemesh.ErrDuplicate.
	Insert(ctx context.Context, r *Record) (id.RecordID, error)

	// Query returns records matching f in Less order, applying f.Offset
	// and f.Limit.
	Query(ctx context.Context, f Filter) ([]*Record, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

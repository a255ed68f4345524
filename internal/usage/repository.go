package usage

import "context"

// Repository is the persistent store for usage records.
//
// Upsert must be atomic: concurrent syncs of the same period resolve to a
// single record holding one writer's values.
type Repository interface {
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, userID, id string) (*Record, error)
	// Create inserts a new record or returns ErrRecordExists.
	Create(ctx context.Context, rec Record) error
	// Replace overwrites an existing record or returns ErrRecordNotFound.
	Replace(ctx context.Context, rec Record) error
	// Upsert creates or replaces rec and reports whether it was created.
	Upsert(ctx context.Context, rec Record) (created bool, err error)
	// Find returns matching records ordered by period date.
	Find(ctx context.Context, f Filter, opts FindOptions) ([]Record, error)
}

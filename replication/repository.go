package replication

import "context"

// Repository persists replication requests. Implementations used inside a
// transaction lock the row read by FindByID until the transaction ends.
type Repository interface {
	// Create inserts a new request. Creating an id that already exists
	// is a no-op returning the stored request.
	Create(ctx context.Context, req Request) (Request, error)
	// FindByID returns the request or a *NotFoundError.
	FindByID(ctx context.Context, id string) (Request, error)
	// Update overwrites the mutable fields of an existing request.
	Update(ctx context.Context, req Request) error
	// List returns the most recently updated requests, optionally
	// filtered by status (empty means any).
	List(ctx context.Context, status Status, limit int) ([]Request, error)
}

// Transactor runs fn against a Repository bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(
		ctx context.Context,
		fn func(ctx context.Context, repo Repository) error,
	) error
}

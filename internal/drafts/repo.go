package drafts

import "context"

// Repo defines persistence operations for drafts.
type Repo interface {
	Create(ctx context.Context, d Draft) error
	GetByID(ctx context.Context, id string) (Draft, error)
}

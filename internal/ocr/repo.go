package ocr

import "context"

// Repo persists extraction attempts. It is append-only: there is no update
// or delete, and readers see attempts newest first.
type Repo interface {
	Create(ctx context.Context, r Result) error
	ListByProposal(ctx context.Context, proposalID string, limit, offset int) ([]Result, error)
	ListByDraft(ctx context.Context, draftID string, limit, offset int) ([]Result, error)
	LatestForDocument(ctx context.Context, documentFileID string) (Result, error)
}

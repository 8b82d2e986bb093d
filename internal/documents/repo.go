package documents

import "context"

// Repo defines persistence operations for document files.
type Repo interface {
	Create(ctx context.Context, f DocumentFile) error
	GetByID(ctx context.Context, id string) (DocumentFile, error)
	ReassignToProposal(ctx context.Context, draftID, proposalID string) (int64, error)
}

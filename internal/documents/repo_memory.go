package documents

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]DocumentFile
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]DocumentFile)}
}

// Create stores a file record.
func (r *MemoryRepo) Create(ctx context.Context, f DocumentFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[f.ID] = f
	return nil
}

// GetByID returns a file by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (DocumentFile, error) {
	if err := ctx.Err(); err != nil {
		return DocumentFile{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.data[id]
	if !ok {
		return DocumentFile{}, ErrNotFound
	}
	return f, nil
}

// ReassignToProposal moves every file of a draft to the proposal.
func (r *MemoryRepo) ReassignToProposal(ctx context.Context, draftID, proposalID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved int64
	for id, f := range r.data {
		if f.DraftID != draftID {
			continue
		}
		f.DraftID = ""
		f.ProposalID = proposalID
		r.data[id] = f
		moved++
	}
	return moved, nil
}

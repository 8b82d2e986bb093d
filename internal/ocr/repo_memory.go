package ocr

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows []Result
	ids  map[string]struct{}
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{ids: make(map[string]struct{})}
}

// Create appends a result. Reusing an ID is rejected.
func (r *MemoryRepo) Create(ctx context.Context, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ids[res.ID]; exists {
		return ErrDuplicate
	}
	r.ids[res.ID] = struct{}{}
	r.rows = append(r.rows, res)
	return nil
}

// ListByProposal returns results for a proposal, newest first.
func (r *MemoryRepo) ListByProposal(ctx context.Context, proposalID string, limit, offset int) ([]Result, error) {
	return r.list(ctx, func(res Result) bool { return res.ProposalID == proposalID }, limit, offset)
}

// ListByDraft returns results for a draft, newest first.
func (r *MemoryRepo) ListByDraft(ctx context.Context, draftID string, limit, offset int) ([]Result, error) {
	return r.list(ctx, func(res Result) bool { return res.DraftID == draftID }, limit, offset)
}

// LatestForDocument returns the newest result for a document file.
func (r *MemoryRepo) LatestForDocument(ctx context.Context, documentFileID string) (Result, error) {
	rows, err := r.list(ctx, func(res Result) bool { return res.DocumentFileID == documentFileID }, 1, 0)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrNotFound
	}
	return rows[0], nil
}

// All returns every stored result in insertion order.
func (r *MemoryRepo) All() []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Result(nil), r.rows...)
}

func (r *MemoryRepo) list(ctx context.Context, match func(Result) bool, limit, offset int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	var out []Result
	for _, res := range r.rows {
		if match(res) {
			out = append(out, res)
		}
	}
	r.mu.RUnlock()

	// Reversed first so equal timestamps list the latest insert first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []Result{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

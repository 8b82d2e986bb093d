package proposals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu        sync.RWMutex
	proposals map[string]Proposal
	people    map[string]Person
	history   []HistoryEntry
	now       func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		proposals: make(map[string]Proposal),
		people:    make(map[string]Person),
		now:       time.Now,
	}
}

// Put stores a proposal together with its person record.
func (r *MemoryRepo) Put(p Proposal, person Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.PersonID = person.ID
	r.proposals[p.ID] = p
	r.people[person.ID] = person
}

// GetByID returns a proposal by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return p, nil
}

// GetPerson returns the person attached to a proposal.
func (r *MemoryRepo) GetPerson(ctx context.Context, proposalID string) (Person, error) {
	if err := ctx.Err(); err != nil {
		return Person{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[proposalID]
	if !ok {
		return Person{}, ErrNotFound
	}
	person, ok := r.people[p.PersonID]
	if !ok {
		return Person{}, ErrPersonNotFound
	}
	return person, nil
}

// TransitionStatus applies t under the write lock.
func (r *MemoryRepo) TransitionStatus(ctx context.Context, t Transition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[t.ProposalID]
	if !ok {
		return false, ErrNotFound
	}
	if !t.allows(p.Status) {
		return false, nil
	}
	now := r.now().UTC()
	r.history = append(r.history, HistoryEntry{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		FromStatus: p.Status,
		ToStatus:   t.To,
		Reason:     t.Reason,
		RequestID:  t.RequestID,
		CreatedAt:  now,
	})
	p.Status = t.To
	p.StatusReason = t.Reason
	p.UpdatedAt = now
	r.proposals[p.ID] = p
	return true, nil
}

// History returns applied transitions for a proposal, oldest first.
func (r *MemoryRepo) History(proposalID string) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []HistoryEntry
	for _, h := range r.history {
		if h.ProposalID == proposalID {
			out = append(out, h)
		}
	}
	return out
}

package proposals

import "context"

// Repo defines persistence operations for proposals.
type Repo interface {
	GetByID(ctx context.Context, id string) (Proposal, error)
	GetPerson(ctx context.Context, proposalID string) (Person, error)
	// TransitionStatus applies t atomically. It reports false without error
	// when the proposal is not in one of the allowed source states.
	TransitionStatus(ctx context.Context, t Transition) (bool, error)
}

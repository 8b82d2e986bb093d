package pipeline

import (
	"context"
	"errors"

	"docverify/internal/drafts"
	"docverify/internal/proposals"
)

// ReferenceIdentity is the self-reported identity a document is compared to.
// CPFHash is never plaintext.
type ReferenceIdentity struct {
	FullName string
	CPFHash  string
}

// owner is the loaded owning record of a document.
type owner struct {
	proposal  *proposals.Proposal
	draft     *drafts.Draft
	reference *ReferenceIdentity
}

func (s *Service) loadOwner(ctx context.Context, proposalID, draftID string) (owner, error) {
	if proposalID != "" {
		p, err := s.deps.Proposals.GetByID(ctx, proposalID)
		if err != nil {
			if errors.Is(err, proposals.ErrNotFound) {
				return owner{}, &IntegrityError{Err: errors.Join(ErrMissingOwner, err)}
			}
			return owner{}, stageErr("load proposal", CodeStorage, err)
		}
		o := owner{proposal: &p}
		person, err := s.deps.Proposals.GetPerson(ctx, proposalID)
		switch {
		case err == nil:
			o.reference = &ReferenceIdentity{FullName: person.FullName, CPFHash: person.CPFHash}
		case errors.Is(err, proposals.ErrPersonNotFound):
		default:
			return owner{}, stageErr("load person", CodeStorage, err)
		}
		return o, nil
	}

	d, err := s.deps.Drafts.GetByID(ctx, draftID)
	if err != nil {
		if errors.Is(err, drafts.ErrNotFound) {
			return owner{}, &IntegrityError{Err: errors.Join(ErrMissingOwner, err)}
		}
		return owner{}, stageErr("load draft", CodeStorage, err)
	}
	o := owner{draft: &d}
	if d.FullName != "" || d.CPF != "" {
		ref := &ReferenceIdentity{FullName: d.FullName}
		if d.CPF != "" && s.deps.HashCPF != nil {
			ref.CPFHash = s.deps.HashCPF(d.CPF)
		}
		o.reference = ref
	}
	return o, nil
}

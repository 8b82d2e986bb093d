package proposals

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("proposal not found")
	ErrPersonNotFound = errors.New("person not found")
)

// Status is the review state of a proposal.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusUnderReview      Status = "under_review"
	StatusPendingDocuments Status = "pending_documents"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
)

// Proposal is a submitted onboarding application.
type Proposal struct {
	ID           string
	PersonID     string
	Status       Status
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Person is the applicant record attached to a proposal. CPFHash is never
// the plaintext number.
type Person struct {
	ID       string
	FullName string
	CPFHash  string
}

// Transition moves a proposal to To only if its current status is in From.
type Transition struct {
	ProposalID string
	From       []Status
	To         Status
	Reason     string
	RequestID  string
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	ID         string
	ProposalID string
	FromStatus Status
	ToStatus   Status
	Reason     string
	RequestID  string
	CreatedAt  time.Time
}

func (t Transition) allows(s Status) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

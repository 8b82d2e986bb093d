package drafts

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("draft not found")

// Draft is an onboarding application that has not been submitted yet. Name
// and CPF are the applicant's self-reported values.
type Draft struct {
	ID                 string
	FullName           string
	CPF                string
	PromotedProposalID string
	CreatedAt          time.Time
}

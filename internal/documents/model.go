package documents

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("document file not found")

// Kind is the declared category of an uploaded file.
type Kind string

const (
	KindIDFront          Kind = "ID_FRONT"
	KindIDBack           Kind = "ID_BACK"
	KindDriverLicense    Kind = "DRIVER_LICENSE"
	KindProofOfResidence Kind = "PROOF_OF_RESIDENCE"
	KindSelfie           Kind = "SELFIE"
	KindOther            Kind = "OTHER"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindIDFront, KindIDBack, KindDriverLicense, KindProofOfResidence, KindSelfie, KindOther:
		return true
	}
	return false
}

// EligibleForOCR reports whether files of this kind go through text extraction.
func (k Kind) EligibleForOCR() bool {
	switch k {
	case KindIDFront, KindDriverLicense, KindProofOfResidence:
		return true
	}
	return false
}

// IsIdentity reports whether the kind carries identity fields.
func (k Kind) IsIdentity() bool {
	return k == KindIDFront || k == KindDriverLicense
}

// DocumentFile is an uploaded file owned by either a draft or a proposal.
type DocumentFile struct {
	ID          string
	ProposalID  string
	DraftID     string
	Kind        Kind
	FileName    string
	StorageKey  string
	ContentType string
	SizeBytes   int64
	Checksum    string
	CreatedAt   time.Time
}

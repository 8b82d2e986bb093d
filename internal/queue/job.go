package queue

import (
	"encoding/json"
	"errors"
	"strings"
)

// CurrentVersion is the payload version written by this service.
const CurrentVersion = 1

var (
	ErrMissingDocument = errors.New("job is missing documentFileId")
	ErrOwnerAmbiguous  = errors.New("job must carry exactly one of proposalId or draftId")
)

// Job asks the pipeline to process one uploaded document file.
type Job struct {
	ProposalID     string `json:"proposalId,omitempty"`
	DraftID        string `json:"draftId,omitempty"`
	DocumentFileID string `json:"documentFileId"`
	RequestID      string `json:"requestId"`
	EnqueuedAt     string `json:"enqueuedAt,omitempty"`
	Version        int    `json:"version,omitempty"`
}

// Validate enforces a document id and exactly one owner.
func (j Job) Validate() error {
	if strings.TrimSpace(j.DocumentFileID) == "" {
		return ErrMissingDocument
	}
	hasProposal := strings.TrimSpace(j.ProposalID) != ""
	hasDraft := strings.TrimSpace(j.DraftID) != ""
	if hasProposal == hasDraft {
		return ErrOwnerAmbiguous
	}
	return nil
}

// OwnerID returns whichever owner id is set.
func (j Job) OwnerID() string {
	if j.ProposalID != "" {
		return j.ProposalID
	}
	return j.DraftID
}

// LogFields returns the correlation fields every job log line carries.
func (j Job) LogFields() map[string]any {
	fields := map[string]any{
		"request_id":       j.RequestID,
		"document_file_id": j.DocumentFileID,
	}
	if j.ProposalID != "" {
		fields["proposal_id"] = j.ProposalID
	}
	if j.DraftID != "" {
		fields["draft_id"] = j.DraftID
	}
	return fields
}

// Encode returns the JSON representation of a job.
func Encode(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// Decode parses a JSON payload into a Job.
func Decode(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

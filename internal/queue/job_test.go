package queue

import (
	"context"
	"errors"
	"testing"
)

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want error
	}{
		{name: "proposal", job: Job{ProposalID: "p", DocumentFileID: "f"}},
		{name: "draft", job: Job{DraftID: "d", DocumentFileID: "f"}},
		{name: "both owners", job: Job{ProposalID: "p", DraftID: "d", DocumentFileID: "f"}, want: ErrOwnerAmbiguous},
		{name: "no owner", job: Job{DocumentFileID: "f"}, want: ErrOwnerAmbiguous},
		{name: "no document", job: Job{ProposalID: "p"}, want: ErrMissingDocument},
	}
	for _, tt := range tests {
		if err := tt.job.Validate(); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestDecodeAcceptsMinimalPayload(t *testing.T) {
	job, err := Decode([]byte(`{"draftId":"d-1","documentFileId":"f-1","requestId":"r-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.DraftID != "d-1" || job.DocumentFileID != "f-1" || job.Version != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.OwnerID() != "d-1" {
		t.Fatalf("unexpected owner %q", job.OwnerID())
	}
	payload, err := Encode(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `{"draftId":"d-1","documentFileId":"f-1","requestId":"r-1"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestMemoryClientRejectsInvalidJobs(t *testing.T) {
	c := &MemoryClient{}
	if err := c.Send(context.Background(), Job{DocumentFileID: "f"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := c.Send(context.Background(), Job{ProposalID: "p", DocumentFileID: "f"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(c.Sent()) != 1 {
		t.Fatalf("expected 1 job, got %d", len(c.Sent()))
	}
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docverify/internal/pipeline"
	"docverify/internal/queue"
	"docverify/internal/textdetect"
)

type fakeSQS struct {
	deleted    []string
	visibility map[string]int32
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(params.ReceiptHandle)] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

type fakeProcessor struct {
	outcome pipeline.Outcome
	err     error
}

func (f fakeProcessor) Process(ctx context.Context, job queue.Job) (pipeline.Outcome, error) {
	return f.outcome, f.err
}

func newWorker(client *fakeSQS, p fakeProcessor) *worker {
	return &worker{client: client, queueURL: "queue", processor: p, maxAttempts: 3, baseDelay: 5 * time.Second}
}

func jobMessage(t *testing.T, id string, receiveCount string) sqstypes.Message {
	t.Helper()
	body, err := queue.Encode(queue.Job{DraftID: "d-1", DocumentFileID: "f-1", RequestID: "req-" + id})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := sqstypes.Message{
		MessageId:     aws.String("m-" + id),
		ReceiptHandle: aws.String("r-" + id),
		Body:          aws.String(string(body)),
	}
	if receiveCount != "" {
		msg.Attributes = map[string]string{"ApproximateReceiveCount": receiveCount}
	}
	return msg
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	newWorker(client, fakeProcessor{outcome: pipeline.OutcomeCompleted}).handleMessage(context.Background(), jobMessage(t, "1", "1"))

	if len(client.deleted) != 1 || client.deleted[0] != "r-1" {
		t.Fatalf("expected delete, got %v", client.deleted)
	}
}

func TestWorkerBacksOffOnTransientFailure(t *testing.T) {
	client := &fakeSQS{}
	err := &pipeline.StageError{Stage: "download document", Code: pipeline.CodeStorage, Err: errors.New("timeout")}
	newWorker(client, fakeProcessor{err: err}).handleMessage(context.Background(), jobMessage(t, "2", "2"))

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
	if got := client.visibility["r-2"]; got != 10 {
		t.Fatalf("expected 10s visibility, got %d", got)
	}
}

func TestWorkerAbandonsAfterMaxAttempts(t *testing.T) {
	client := &fakeSQS{}
	err := &pipeline.StageError{Stage: "text detection", Code: pipeline.CodeTextDetection, Err: errors.New("503")}
	newWorker(client, fakeProcessor{err: err}).handleMessage(context.Background(), jobMessage(t, "3", "3"))

	if len(client.deleted) != 1 {
		t.Fatalf("expected abandoned message deleted, got %d", len(client.deleted))
	}
}

func TestWorkerDelaysRateLimitedJobs(t *testing.T) {
	client := &fakeSQS{}
	err := &pipeline.StageError{Stage: "text detection", Code: pipeline.CodeTextDetection, Err: &textdetect.RateLimitedError{RetryAfter: 45 * time.Second}}
	newWorker(client, fakeProcessor{err: err}).handleMessage(context.Background(), jobMessage(t, "4", "3"))

	if len(client.deleted) != 0 {
		t.Fatalf("rate limited job must not be abandoned")
	}
	if got := client.visibility["r-4"]; got != 45 {
		t.Fatalf("expected 45s visibility, got %d", got)
	}
}

func TestWorkerDeletesIntegrityFaults(t *testing.T) {
	client := &fakeSQS{}
	err := &pipeline.IntegrityError{Err: pipeline.ErrOwnerMismatch}
	newWorker(client, fakeProcessor{err: err}).handleMessage(context.Background(), jobMessage(t, "5", "1"))

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	client := &fakeSQS{}
	msg := sqstypes.Message{
		MessageId:     aws.String("m6"),
		ReceiptHandle: aws.String("r6"),
		Body:          aws.String("{bad-json"),
	}
	newWorker(client, fakeProcessor{}).handleMessage(context.Background(), msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestReceiveCountDefaultsToOne(t *testing.T) {
	if got := receiveCount(sqstypes.Message{}); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "4"}}); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}

package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"docverify/internal/pipeline"
	"docverify/internal/queue"
)

// MaxBackoff caps the redelivery delay of a failed job. It matches the SQS
// visibility timeout ceiling.
const MaxBackoff = 12 * time.Hour

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidJob indicates a decoded job that fails validation.
type ErrInvalidJob struct {
	Meta      MessageMeta
	RequestID string
	Err       error
}

func (e ErrInvalidJob) Error() string {
	if e.Err == nil {
		return "invalid job"
	}
	return "invalid job: " + e.Err.Error()
}

func (e ErrInvalidJob) Unwrap() error { return e.Err }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	Job        queue.Job
	Code       string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process ocr job"
	}
	return "process ocr job: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Processor runs one OCR job.
type Processor interface {
	Process(ctx context.Context, job queue.Job) (pipeline.Outcome, error)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Job, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Job{}, meta, ErrEmptyBody{Meta: meta}
	}

	job, err := queue.Decode([]byte(body))
	if err != nil {
		return queue.Job{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := job.Validate(); err != nil {
		return job, meta, ErrInvalidJob{Meta: meta, RequestID: job.RequestID, Err: err}
	}
	return job, meta, nil
}

// HandleJob runs a parsed job and wraps failures with their classification.
func HandleJob(ctx context.Context, p Processor, job queue.Job) (pipeline.Outcome, error) {
	if p == nil {
		return "", errors.New("ocr pipeline not configured")
	}
	outcome, err := p.Process(ctx, job)
	if err != nil {
		code, retryable := pipeline.Classify(err)
		wrapped := ErrProcess{Job: job, Code: code, Retryable: retryable, Err: err}
		if d, ok := pipeline.RetryAfter(err); ok {
			wrapped.RetryAfter = d
		}
		return outcome, wrapped
	}
	return outcome, nil
}

// HandleMessage parses body and runs the job it carries.
func HandleMessage(ctx context.Context, p Processor, body string) (pipeline.Outcome, error) {
	job, _, err := ParseMessage(body)
	if err != nil {
		return "", err
	}
	return HandleJob(ctx, p, job)
}

// Action tells the transport what to do with a message after one attempt.
type Action string

const (
	ActionDelete  Action = "delete"
	ActionRetry   Action = "retry"
	ActionDelay   Action = "delay"
	ActionAbandon Action = "abandon"
	ActionDiscard Action = "discard"
)

// Decision is the transport-level outcome of one attempt. Visibility is set
// for retry and delay.
type Decision struct {
	Action     Action
	Visibility time.Duration
	Result     string
}

// Decide maps the error of one attempt to a transport action. receiveCount is
// the delivery count of the message, starting at 1.
func Decide(err error, receiveCount, maxAttempts int, base time.Duration) Decision {
	if err == nil {
		return Decision{Action: ActionDelete, Result: "completed"}
	}

	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		invalid ErrInvalidJob
	)
	if errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &invalid) {
		return Decision{Action: ActionDiscard, Result: "undecodable"}
	}

	var proc ErrProcess
	if !errors.As(err, &proc) {
		return Decision{Action: ActionRetry, Visibility: Backoff(base, receiveCount), Result: "retried"}
	}
	if !proc.Retryable {
		if proc.Code == pipeline.CodeIntegrity {
			return Decision{Action: ActionDiscard, Result: "integrity"}
		}
		return Decision{Action: ActionDiscard, Result: "abandoned"}
	}
	if proc.Code == pipeline.CodeRateLimited && proc.RetryAfter > 0 {
		return Decision{Action: ActionDelay, Visibility: min(proc.RetryAfter, MaxBackoff), Result: "delayed"}
	}
	if maxAttempts > 0 && receiveCount >= maxAttempts {
		return Decision{Action: ActionAbandon, Result: "abandoned"}
	}
	return Decision{Action: ActionRetry, Visibility: Backoff(base, receiveCount), Result: "retried"}
}

// Backoff returns base * 2^(receiveCount-1), capped at MaxBackoff.
func Backoff(base time.Duration, receiveCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if receiveCount < 1 {
		receiveCount = 1
	}
	d := base
	for i := 1; i < receiveCount; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return min(d, MaxBackoff)
}

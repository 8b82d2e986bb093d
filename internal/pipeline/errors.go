package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docverify/internal/shared/storage/object"
	"docverify/internal/textdetect"
)

var (
	ErrOwnerMismatch = errors.New("job owner does not match document owner")
	ErrMissingOwner  = errors.New("owner record not found")
)

// Failure codes reported by Classify.
const (
	CodeIntegrity     = "INTEGRITY_ERROR"
	CodeStorage       = "STORAGE_ERROR"
	CodeTextDetection = "TEXT_DETECTION_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL_ERROR"
)

// IntegrityError marks a job that can never succeed: the document or its
// owner is missing, or they disagree with the job.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	if e.Err == nil {
		return "integrity fault"
	}
	return "integrity fault: " + e.Err.Error()
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StageError wraps a transient failure with the stage it happened in.
type StageError struct {
	Stage string
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage, code string, err error) error {
	return &StageError{Stage: stage, Code: code, Err: err}
}

// Classify maps a Process error to a failure code and whether redelivery
// can help.
func Classify(err error) (code string, retryable bool) {
	if err == nil {
		return "", false
	}
	var integrity *IntegrityError
	if errors.As(err, &integrity) {
		return CodeIntegrity, false
	}
	var limited *textdetect.RateLimitedError
	if errors.As(err, &limited) {
		return CodeRateLimited, true
	}
	if errors.Is(err, object.ErrTooLarge) {
		return CodeStorage, false
	}
	if errors.Is(err, context.Canceled) {
		return CodeInternal, true
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return stage.Code, stage.Code != CodeInternal
	}
	return CodeInternal, true
}

// RetryAfter returns the delay requested by a rate-limited failure.
func RetryAfter(err error) (time.Duration, bool) {
	var limited *textdetect.RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}

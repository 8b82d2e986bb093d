// Package pipeline turns one queued document file into a persisted OCR
// result and, on identity mismatch, moves the owning proposal back to
// pending documents.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docverify/internal/documents"
	"docverify/internal/drafts"
	"docverify/internal/ocr"
	"docverify/internal/ocr/compare"
	"docverify/internal/ocr/preprocess"
	"docverify/internal/proposals"
	"docverify/internal/queue"
	"docverify/internal/shared/metrics"
	"docverify/internal/shared/storage/object"
	"docverify/internal/shared/telemetry"
	"docverify/internal/textdetect"
)

// Outcome is how a successful run ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = metrics.OutcomeCompleted
	OutcomeIllegible       Outcome = metrics.OutcomeIllegible
	OutcomeSkippedKind     Outcome = metrics.OutcomeSkippedKind
	OutcomeSkippedDisabled Outcome = metrics.OutcomeSkippedDisabled
)

const defaultMaxDocumentBytes = 25 << 20

// Config holds the pipeline thresholds.
type Config struct {
	Legibility       preprocess.Thresholds
	MaxDimension     int
	MaxPixels        int64
	MinTextLength    int
	NameThreshold    float64
	MaxDocumentBytes int64
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Documents  documents.Repo
	Proposals  proposals.Repo
	Drafts     drafts.Repo
	Results    ocr.Repo
	Store      object.ObjectStore
	TextDetect textdetect.Client
	// HashCPF must be the function that produced stored person CPF hashes.
	HashCPF func(string) string
}

// Service runs the verification pipeline.
type Service struct {
	deps  Deps
	cfg   Config
	now   func() time.Time
	newID func() string
}

// NewService constructs a Service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.TextDetect == nil {
		deps.TextDetect = textdetect.Disabled{}
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	cfg.NameThreshold = compare.ClampThreshold(cfg.NameThreshold)
	return &Service{deps: deps, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Process runs every stage for job in order. Skips and legibility failures
// are outcomes, not errors. Any error means nothing was persisted for this
// attempt, except a failed status transition after the result was stored.
func (s *Service) Process(ctx context.Context, job queue.Job) (Outcome, error) {
	start := s.now()
	r := &run{
		job:        job,
		heuristics: ocr.Heuristics{RequestID: job.RequestID},
	}

	for _, st := range s.stages() {
		next, err := st.fn(ctx, r)
		if err != nil {
			code, retryable := Classify(err)
			fields := job.LogFields()
			fields["stage"] = st.name
			fields["error"] = err.Error()
			fields["code"] = code
			fields["retryable"] = retryable
			if code == CodeIntegrity {
				fields["alert"] = true
			}
			telemetry.Error("ocr.job.failed", fields)
			metrics.IncOCRJob(metrics.OutcomeFailed)
			return "", err
		}
		if next == stop {
			break
		}
	}

	metrics.IncOCRJob(string(r.outcome))
	metrics.ObserveOCRJobDuration(s.now().Sub(start))
	fields := job.LogFields()
	fields["outcome"] = string(r.outcome)
	fields["duration_ms"] = s.now().Sub(start).Milliseconds()
	if r.result != nil {
		fields["ocr_result_id"] = r.result.ID
		fields["score"] = r.result.Score
	}
	telemetry.Info("ocr.job.completed", fields)
	return r.outcome, nil
}

package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"docverify/internal/documents"
	"docverify/internal/ocr"
	"docverify/internal/ocr/compare"
	"docverify/internal/ocr/parser"
	"docverify/internal/ocr/preprocess"
	"docverify/internal/proposals"
	"docverify/internal/queue"
	"docverify/internal/shared/metrics"
	"docverify/internal/shared/storage/object"
	"docverify/internal/shared/telemetry"
	"docverify/internal/textdetect"
)

type step int

const (
	next step = iota
	stop
)

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) (step, error)
}

// run is the state shared by the stages of one Process call.
type run struct {
	job   queue.Job
	file  documents.DocumentFile
	owner owner

	data        []byte
	contentType string

	transcript textdetect.Transcript
	structured ocr.StructuredData
	identity   *parser.IdentityParse
	address    *parser.AddressFields
	heuristics ocr.Heuristics

	result  *ocr.Result
	outcome Outcome
}

func (s *Service) stages() []stage {
	return []stage{
		{"load", s.load},
		{"filter_kind", s.filterKind},
		{"feature_flag", s.checkEnabled},
		{"download", s.download},
		{"preprocess", s.preprocess},
		{"transcribe", s.transcribe},
		{"parse", s.parse},
		{"compare", s.compare},
		{"flags", s.flags},
		{"persist", s.persist},
		{"transition", s.transition},
	}
}

func (s *Service) load(ctx context.Context, r *run) (step, error) {
	if err := r.job.Validate(); err != nil {
		return stop, &IntegrityError{Err: err}
	}
	file, err := s.deps.Documents.GetByID(ctx, r.job.DocumentFileID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return stop, &IntegrityError{Err: err}
		}
		return stop, stageErr("load document", CodeStorage, err)
	}
	if r.job.ProposalID != "" && file.ProposalID != r.job.ProposalID {
		return stop, &IntegrityError{Err: ErrOwnerMismatch}
	}
	if r.job.DraftID != "" && file.DraftID != r.job.DraftID {
		return stop, &IntegrityError{Err: ErrOwnerMismatch}
	}
	r.file = file

	o, err := s.loadOwner(ctx, file.ProposalID, file.DraftID)
	if err != nil {
		return stop, err
	}
	r.owner = o
	return next, nil
}

func (s *Service) filterKind(_ context.Context, r *run) (step, error) {
	if r.file.Kind.EligibleForOCR() {
		return next, nil
	}
	r.outcome = OutcomeSkippedKind
	fields := r.job.LogFields()
	fields["kind"] = string(r.file.Kind)
	telemetry.Info("ocr.job.skipped", fields)
	return stop, nil
}

func (s *Service) checkEnabled(_ context.Context, r *run) (step, error) {
	if s.deps.TextDetect.Enabled() {
		return next, nil
	}
	r.outcome = OutcomeSkippedDisabled
	telemetry.Info("ocr.job.disabled", r.job.LogFields())
	return stop, nil
}

func (s *Service) download(ctx context.Context, r *run) (step, error) {
	data, err := object.ReadAll(ctx, s.deps.Store, r.file.StorageKey, s.cfg.MaxDocumentBytes)
	if err != nil {
		return stop, stageErr("download document", CodeStorage, err)
	}
	r.data = data
	r.contentType = r.file.ContentType
	return next, nil
}

func (s *Service) preprocess(ctx context.Context, r *run) (step, error) {
	if !preprocess.IsImage(r.data, r.contentType) {
		return next, nil
	}
	originalBytes := int64(len(r.data))
	out, err := preprocess.Process(r.data, r.contentType, preprocess.Options{
		MaxDimension: s.cfg.MaxDimension,
		MaxPixels:    s.cfg.MaxPixels,
	})
	if err != nil {
		var tooLarge *preprocess.TooLargeError
		if errors.As(err, &tooLarge) {
			return s.persistIllegible(ctx, r, preprocess.Oversized(tooLarge), nil)
		}
		if errors.Is(err, preprocess.ErrUndecodable) {
			return s.persistIllegible(ctx, r, preprocess.Undecodable(originalBytes), nil)
		}
		return stop, stageErr("preprocess", CodeInternal, err)
	}
	leg := preprocess.CheckLegibility(*out.Meta, originalBytes, s.cfg.Legibility)
	if !leg.OK {
		return s.persistIllegible(ctx, r, leg, out.Meta)
	}
	r.heuristics.Preprocess = out.Meta
	r.heuristics.Legibility = &leg
	r.data = out.Data
	r.contentType = out.ContentType
	return next, nil
}

// persistIllegible stores the terminal result of a failed legibility gate.
func (s *Service) persistIllegible(ctx context.Context, r *run, leg preprocess.Legibility, meta *preprocess.Meta) (step, error) {
	r.heuristics.Preprocess = meta
	r.heuristics.Legibility = &leg
	r.heuristics.ScoreSource = ocr.ScoreNone
	r.structured = ocr.EmptyData(expectedDocType(r.file.Kind))
	if err := s.store(ctx, r, 0); err != nil {
		return stop, err
	}
	r.outcome = OutcomeIllegible

	checks := make([]string, 0, len(leg.Failures))
	for _, f := range leg.Failures {
		checks = append(checks, f.Check)
	}
	fields := r.job.LogFields()
	fields["checks"] = strings.Join(checks, ",")
	telemetry.Info("ocr.job.illegible", fields)
	return stop, nil
}

func (s *Service) transcribe(ctx context.Context, r *run) (step, error) {
	t, err := s.deps.TextDetect.Detect(ctx, r.data, r.contentType)
	if err != nil {
		return stop, stageErr("text detection", CodeTextDetection, err)
	}
	r.transcript = t
	r.heuristics.Source = t.Source
	length := utf8.RuneCountInString(strings.TrimSpace(t.FullText))
	r.heuristics.Transcript = &ocr.TranscriptCheck{
		Length:        length,
		MinLength:     s.cfg.MinTextLength,
		Legible:       length >= s.cfg.MinTextLength,
		Tokens:        len(t.Tokens),
		AvgConfidence: t.AvgConfidence(),
	}
	return next, nil
}

func (s *Service) parse(_ context.Context, r *run) (step, error) {
	if r.file.Kind == documents.KindProofOfResidence {
		addr := parser.ParseAddress(r.transcript.FullText)
		r.address = &addr
		r.structured = ocr.AddressData(addr)
		return next, nil
	}
	parsed := parser.ParseIdentity(r.transcript.FullText)
	r.identity = &parsed
	r.structured = ocr.IdentityData(parsed.Classification.Type, parsed.Fields)
	return next, nil
}

func (s *Service) compare(_ context.Context, r *run) (step, error) {
	if r.identity == nil || r.owner.reference == nil {
		return next, nil
	}
	ref := r.owner.reference
	res := compare.Compare(
		compare.Extracted{Name: r.identity.Fields.Name, CPF: r.identity.Fields.CPF},
		compare.Reference{FullName: ref.FullName, CPFHash: ref.CPFHash},
		s.cfg.NameThreshold,
		s.deps.HashCPF,
	)
	r.heuristics.Comparison = &res
	for _, reason := range res.Reasons {
		metrics.IncMismatch(reason)
	}
	return next, nil
}

func (s *Service) flags(_ context.Context, r *run) (step, error) {
	if r.identity == nil {
		return next, nil
	}
	now := s.now().UTC()
	if exp := r.identity.Fields.ExpiryDate; exp != "" {
		if date, err := time.Parse("2006-01-02", exp); err == nil {
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			r.heuristics.Expiry = &ocr.ExpiryCheck{
				Date:      exp,
				Expired:   date.Before(today),
				CheckedOn: today.Format("2006-01-02"),
			}
		}
	}

	c := r.identity.Classification
	expected := expectedDocType(r.file.Kind)
	r.heuristics.DocType = &ocr.DocTypeCheck{
		Detected: string(c.Type),
		Expected: expected,
		Mismatch: c.Type.Known() && string(c.Type) != expected,
		RGScore:  c.RGScore,
		CNHScore: c.CNHScore,
		Matched:  c.Matched,
	}
	return next, nil
}

func (s *Service) persist(ctx context.Context, r *run) (step, error) {
	score := 0.0
	switch {
	case r.heuristics.Comparison != nil && r.heuristics.Comparison.NameCompared:
		score = r.heuristics.Comparison.NameSimilarity
		r.heuristics.ScoreSource = ocr.ScoreNameSimilarity
	case r.identity != nil:
		score = identityCoverage(r.identity.Fields)
		r.heuristics.ScoreSource = ocr.ScoreFieldCoverage
	case r.address != nil:
		score = float64(r.address.Found()) / 5
		r.heuristics.ScoreSource = ocr.ScoreFieldCoverage
	}
	if err := s.store(ctx, r, score); err != nil {
		return stop, err
	}
	r.outcome = OutcomeCompleted
	return next, nil
}

func (s *Service) store(ctx context.Context, r *run, score float64) error {
	structured, dropped, err := ocr.DropInvalidFields(r.structured)
	if err != nil {
		return stageErr("validate structured data", CodeInternal, err)
	}
	if len(dropped) > 0 {
		r.structured = structured
		r.heuristics.DroppedFields = dropped
		fields := r.job.LogFields()
		fields["dropped_fields"] = strings.Join(dropped, ",")
		telemetry.Warn("ocr.fields.dropped", fields)
	}
	res := ocr.Result{
		ID:             s.newID(),
		DocumentFileID: r.file.ID,
		ProposalID:     r.file.ProposalID,
		DraftID:        r.file.DraftID,
		RawText:        r.transcript.FullText,
		StructuredData: r.structured,
		Score:          clamp01(score),
		Heuristics:     r.heuristics,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.deps.Results.Create(ctx, res); err != nil {
		return stageErr("persist ocr result", CodeStorage, err)
	}
	r.result = &res
	return nil
}

var reviewableStatuses = []proposals.Status{proposals.StatusSubmitted, proposals.StatusUnderReview}

func (s *Service) transition(ctx context.Context, r *run) (step, error) {
	cmp := r.heuristics.Comparison
	if cmp == nil || !cmp.Mismatch || r.owner.proposal == nil {
		return stop, nil
	}
	reasons := append([]string(nil), cmp.Reasons...)
	sort.Strings(reasons)
	applied, err := s.deps.Proposals.TransitionStatus(ctx, proposals.Transition{
		ProposalID: r.owner.proposal.ID,
		From:       reviewableStatuses,
		To:         proposals.StatusPendingDocuments,
		Reason:     "ocr_mismatch: " + strings.Join(reasons, ","),
		RequestID:  r.job.RequestID,
	})
	metrics.IncProposalTransition(string(proposals.StatusPendingDocuments), applied)
	if err != nil {
		return stop, stageErr("transition proposal", CodeStorage, err)
	}
	fields := r.job.LogFields()
	fields["applied"] = applied
	fields["reasons"] = strings.Join(reasons, ",")
	telemetry.Warn("ocr.identity.mismatch", fields)
	return stop, nil
}

// expectedDocType maps a declared kind to the type its transcript should
// classify as.
func expectedDocType(kind documents.Kind) string {
	switch kind {
	case documents.KindIDFront:
		return string(parser.TypeRG)
	case documents.KindDriverLicense:
		return string(parser.TypeCNH)
	case documents.KindProofOfResidence:
		return ocr.DocumentTypeProofOfResidence
	}
	return string(parser.TypeUnknown)
}

// identityCoverage is the share of the core identity fields that were read.
func identityCoverage(f parser.IdentityFields) float64 {
	core := []string{f.Name, f.CPF, f.DocumentNumber(), f.IssueDate, f.ExpiryDate}
	found := 0
	for _, v := range core {
		if v != "" {
			found++
		}
	}
	return float64(found) / float64(len(core))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

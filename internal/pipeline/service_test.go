package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"
	"time"

	"docverify/internal/documents"
	"docverify/internal/drafts"
	"docverify/internal/ocr"
	"docverify/internal/ocr/preprocess"
	"docverify/internal/proposals"
	"docverify/internal/queue"
	"docverify/internal/shared/storage/object/local"
	"docverify/internal/shared/util"
	"docverify/internal/textdetect"
)

const rgText = `REPUBLICA FEDERATIVA DO BRASIL
REGISTRO GERAL
NOME JOAO DA SILVA CPF 123.456.789-09
FILIAÇÃO MARIA DA SILVA
ORGAO EMISSOR SSP/SC`

const cnhText = `CARTEIRA NACIONAL DE HABILITAÇÃO
NOME MARIA OLIVEIRA CPF 935.411.347-80 REGISTRO 01234567890 VALIDADE 12/08/2030 DATA EMISSAO 15/03/2020`

const addressText = `CONTA DE ENERGIA
JOAO DA SILVA
CENTRO
RUA DAS FLORES 123
88010-400 FLORIANOPOLIS - SC`

const secret = "test-secret"

type fakeDetector struct {
	enabled bool
	text    string
	err     error
	calls   int
}

func (f *fakeDetector) Enabled() bool { return f.enabled }

func (f *fakeDetector) Detect(ctx context.Context, data []byte, contentType string) (textdetect.Transcript, error) {
	f.calls++
	if f.err != nil {
		return textdetect.Transcript{}, f.err
	}
	return textdetect.Transcript{FullText: f.text, Source: "fake"}, nil
}

type harness struct {
	svc       *Service
	docs      *documents.MemoryRepo
	proposals *proposals.MemoryRepo
	drafts    *drafts.MemoryRepo
	results   *ocr.MemoryRepo
	store     *local.Store
	detector  *fakeDetector
}

func newHarness(t *testing.T, text string) *harness {
	t.Helper()
	h := &harness{
		docs:      documents.NewMemoryRepo(),
		proposals: proposals.NewMemoryRepo(),
		drafts:    drafts.NewMemoryRepo(),
		results:   ocr.NewMemoryRepo(),
		store:     local.New(t.TempDir()),
		detector:  &fakeDetector{enabled: true, text: text},
	}
	h.svc = NewService(Deps{
		Documents:  h.docs,
		Proposals:  h.proposals,
		Drafts:     h.drafts,
		Results:    h.results,
		Store:      h.store,
		TextDetect: h.detector,
		HashCPF:    util.CPFHasher(secret),
	}, Config{
		Legibility:    preprocess.Thresholds{MinWidth: 60, MinHeight: 40, MinBytes: 1000},
		MaxDimension:  2000,
		MinTextLength: 20,
		NameThreshold: 0.2,
	}).WithClock(func() time.Time { return time.Date(2031, 1, 10, 9, 0, 0, 0, time.UTC) })
	return h
}

// addFile stores payload and registers a document file owned by the given ids.
func (h *harness) addFile(t *testing.T, id string, kind documents.Kind, proposalID, draftID, contentType string, payload []byte) {
	t.Helper()
	key := "files/" + id
	if _, err := h.store.Put(context.Background(), key, contentType, bytes.NewReader(payload)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.docs.Create(context.Background(), documents.DocumentFile{
		ID: id, ProposalID: proposalID, DraftID: draftID, Kind: kind,
		StorageKey: key, ContentType: contentType, SizeBytes: int64(len(payload)),
	}); err != nil {
		t.Fatalf("create doc: %v", err)
	}
}

func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

var pdfBytes = []byte("%PDF-1.4 scanned")

// hugePNGHeader is a signature plus an IHDR chunk declaring w x h pixels and
// no image data.
func hugePNGHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	_ = binary.Write(&ihdr, binary.BigEndian, w)
	_ = binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 2, 0, 0, 0})

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(ihdr.Len()-4))
	buf.Write(ihdr.Bytes())
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return buf.Bytes()
}

func TestProcessDraftRGImageCompletes(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1", FullName: "João da Silva", CPF: "123.456.789-09"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "image/png", noisePNG(t, 120, 90))

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", outcome)
	}
	rows := h.results.All()
	if len(rows) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rows))
	}
	res := rows[0]
	if res.DraftID != "d-1" || res.ProposalID != "" {
		t.Fatalf("unexpected owner %+v", res)
	}
	if res.StructuredData.DocumentType != "RG" || res.StructuredData.Fields["cpf"] != "12345678909" || res.StructuredData.Fields["uf"] != "SC" {
		t.Fatalf("unexpected structured data %+v", res.StructuredData)
	}
	hr := res.Heuristics
	if hr.RequestID != "req-1" || hr.Preprocess == nil || hr.Legibility == nil || !hr.Legibility.OK {
		t.Fatalf("unexpected heuristics %+v", hr)
	}
	if hr.Comparison == nil || hr.Comparison.Mismatch || hr.Comparison.CPFMatches == nil || !*hr.Comparison.CPFMatches {
		t.Fatalf("expected matching comparison, got %+v", hr.Comparison)
	}
	if res.Score != 1 || hr.ScoreSource != ocr.ScoreNameSimilarity {
		t.Fatalf("unexpected score %v (%s)", res.Score, hr.ScoreSource)
	}
	if hr.DocType == nil || hr.DocType.Mismatch {
		t.Fatalf("unexpected doc type %+v", hr.DocType)
	}
	if hr.Transcript == nil || !hr.Transcript.Legible {
		t.Fatalf("unexpected transcript check %+v", hr.Transcript)
	}
}

func TestNarrowImageIsIllegibleWithoutTextDetection(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "image/png", noisePNG(t, 50, 90))

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeIllegible {
		t.Fatalf("expected illegible, got %s", outcome)
	}
	if h.detector.calls != 0 {
		t.Fatalf("text detection must not be called, got %d calls", h.detector.calls)
	}
	rows := h.results.All()
	if len(rows) != 1 {
		t.Fatalf("expected a persisted failure result, got %d", len(rows))
	}
	res := rows[0]
	if res.RawText != "" || len(res.StructuredData.Fields) != 0 || res.Score != 0 {
		t.Fatalf("illegible result must be empty: %+v", res)
	}
	leg := res.Heuristics.Legibility
	if leg == nil || leg.OK || len(leg.Failures) != 1 || leg.Failures[0].Check != preprocess.CheckWidth || leg.Failures[0].Value != 50 {
		t.Fatalf("unexpected legibility %+v", leg)
	}
}

func TestUndecodableImageIsIllegible(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindDriverLicense, "", "d-1", "image/jpeg", []byte("definitely not a jpeg"))

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"})
	if err != nil || outcome != OutcomeIllegible {
		t.Fatalf("expected illegible, got %s %v", outcome, err)
	}
	if h.detector.calls != 0 {
		t.Fatalf("text detection must not be called")
	}
	if f := h.results.All()[0].Heuristics.Legibility.Failures[0]; f.Check != preprocess.CheckDecode {
		t.Fatalf("expected decode failure, got %+v", f)
	}
}

func TestOversizedImageIsIllegibleWithoutDecoding(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "image/png", hugePNGHeader(12000, 12000))

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"})
	if err != nil || outcome != OutcomeIllegible {
		t.Fatalf("expected illegible, got %s %v", outcome, err)
	}
	if h.detector.calls != 0 {
		t.Fatalf("text detection must not be called")
	}
	f := h.results.All()[0].Heuristics.Legibility.Failures[0]
	if f.Check != preprocess.CheckPixels || f.Value != 144_000_000 || f.Max != preprocess.DefaultMaxPixels {
		t.Fatalf("expected pixel budget failure, got %+v", f)
	}
}

func TestNoisyRegistryNumberStillPersists(t *testing.T) {
	noisy := `CARTEIRA NACIONAL DE HABILITAÇÃO
NOME MARIA OLIVEIRA CPF 935.411.347-80
N REGISTRO 012345678901234 VALIDADE 12/08/2030`
	h := newHarness(t, noisy)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindDriverLicense, "", "d-1", "application/pdf", pdfBytes)

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s %v", outcome, err)
	}
	rows := h.results.All()
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	fields := rows[0].StructuredData.Fields
	if _, ok := fields["cnh_number"]; ok {
		t.Fatalf("over-long registry number must be left out: %v", fields)
	}
	if fields["cpf"] != "93541134780" || fields["expiry_date"] != "2030-08-12" {
		t.Fatalf("other fields must survive: %v", fields)
	}
}

func TestInvalidFieldIsDroppedAtPersist(t *testing.T) {
	h := newHarness(t, rgText)
	r := &run{
		file:       documents.DocumentFile{ID: "f-1", DraftID: "d-1"},
		structured: ocr.StructuredData{DocumentType: "CNH", Fields: map[string]string{"cnh_number": "123", "name": "MARIA"}},
	}
	if err := h.svc.store(context.Background(), r, 0.5); err != nil {
		t.Fatalf("store: %v", err)
	}
	res := h.results.All()[0]
	if _, ok := res.StructuredData.Fields["cnh_number"]; ok || res.StructuredData.Fields["name"] != "MARIA" {
		t.Fatalf("unexpected fields %v", res.StructuredData.Fields)
	}
	if len(res.Heuristics.DroppedFields) != 1 || res.Heuristics.DroppedFields[0] != "cnh_number" {
		t.Fatalf("expected dropped field recorded, got %v", res.Heuristics.DroppedFields)
	}
}

func TestCNHTranscriptOnIDFrontFlagsTypeMismatch(t *testing.T) {
	h := newHarness(t, cnhText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "application/pdf", pdfBytes)

	if _, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res := h.results.All()[0]
	dt := res.Heuristics.DocType
	if dt == nil || !dt.Mismatch || dt.Detected != "CNH" || dt.Expected != "RG" {
		t.Fatalf("expected doc type mismatch, got %+v", dt)
	}
	if res.Heuristics.Preprocess != nil {
		t.Fatalf("pdf must not carry preprocess meta")
	}
	if res.Heuristics.Comparison != nil {
		t.Fatalf("draft without reference data must not be compared")
	}
	if res.Heuristics.ScoreSource != ocr.ScoreFieldCoverage || res.Score != 1 {
		t.Fatalf("expected full field coverage score, got %v (%s)", res.Score, res.Heuristics.ScoreSource)
	}
	if exp := res.Heuristics.Expiry; exp == nil || !exp.Expired || exp.Date != "2030-08-12" || exp.CheckedOn != "2031-01-10" {
		t.Fatalf("expiry 2030-08-12 is before 2031-01-10 and must be flagged: %+v", exp)
	}
}

func TestTwoRunsAppendTwoResults(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "application/pdf", pdfBytes)

	job := queue.Job{DraftID: "d-1", DocumentFileID: "f-1"}
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Process(context.Background(), job); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	rows := h.results.All()
	if len(rows) != 2 || rows[0].ID == rows[1].ID {
		t.Fatalf("expected two distinct rows, got %+v", rows)
	}
}

func TestMismatchMovesProposalToPendingOnce(t *testing.T) {
	h := newHarness(t, rgText)
	h.proposals.Put(
		proposals.Proposal{ID: "p-1", Status: proposals.StatusUnderReview},
		proposals.Person{ID: "person-1", FullName: "Carlos Pereira", CPFHash: util.HashCPF(secret, "935.411.347-80")},
	)
	h.addFile(t, "f-1", documents.KindIDFront, "p-1", "", "application/pdf", pdfBytes)
	job := queue.Job{ProposalID: "p-1", DocumentFileID: "f-1", RequestID: "req-9"}

	if _, err := h.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	p, _ := h.proposals.GetByID(context.Background(), "p-1")
	if p.Status != proposals.StatusPendingDocuments {
		t.Fatalf("expected pending_documents, got %s", p.Status)
	}
	if p.StatusReason != "ocr_mismatch: cpf,name" {
		t.Fatalf("unexpected reason %q", p.StatusReason)
	}
	cmp := h.results.All()[0].Heuristics.Comparison
	if cmp == nil || !cmp.Mismatch || cmp.NameSimilarity >= 0.8 {
		t.Fatalf("unexpected comparison %+v", cmp)
	}

	if _, err := h.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if hist := h.proposals.History("p-1"); len(hist) != 1 || hist[0].RequestID != "req-9" {
		t.Fatalf("repeated mismatch must not transition again: %+v", hist)
	}
	if len(h.results.All()) != 2 {
		t.Fatalf("expected two results")
	}
}

func TestMismatchLeavesApprovedProposalAlone(t *testing.T) {
	h := newHarness(t, rgText)
	h.proposals.Put(
		proposals.Proposal{ID: "p-1", Status: proposals.StatusApproved},
		proposals.Person{ID: "person-1", FullName: "Carlos Pereira"},
	)
	h.addFile(t, "f-1", documents.KindIDFront, "p-1", "", "application/pdf", pdfBytes)

	if _, err := h.svc.Process(context.Background(), queue.Job{ProposalID: "p-1", DocumentFileID: "f-1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p, _ := h.proposals.GetByID(context.Background(), "p-1"); p.Status != proposals.StatusApproved {
		t.Fatalf("approved proposal must not move, got %s", p.Status)
	}
}

func TestSkips(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "selfie", documents.KindSelfie, "", "d-1", "image/png", noisePNG(t, 100, 100))
	h.addFile(t, "rg", documents.KindIDFront, "", "d-1", "application/pdf", pdfBytes)

	outcome, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "selfie"})
	if err != nil || outcome != OutcomeSkippedKind {
		t.Fatalf("expected skipped kind, got %s %v", outcome, err)
	}

	h.detector.enabled = false
	outcome, err = h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "rg"})
	if err != nil || outcome != OutcomeSkippedDisabled {
		t.Fatalf("expected skipped disabled, got %s %v", outcome, err)
	}
	if len(h.results.All()) != 0 || h.detector.calls != 0 {
		t.Fatalf("skips must not persist or call text detection")
	}
}

func TestIntegrityFaults(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "application/pdf", pdfBytes)
	h.addFile(t, "orphan", documents.KindIDFront, "", "d-missing", "application/pdf", pdfBytes)

	tests := []struct {
		name string
		job  queue.Job
		want error
	}{
		{name: "wrong draft", job: queue.Job{DraftID: "d-2", DocumentFileID: "f-1"}, want: ErrOwnerMismatch},
		{name: "proposal instead of draft", job: queue.Job{ProposalID: "p-1", DocumentFileID: "f-1"}, want: ErrOwnerMismatch},
		{name: "missing document", job: queue.Job{DraftID: "d-1", DocumentFileID: "nope"}, want: documents.ErrNotFound},
		{name: "two owners", job: queue.Job{DraftID: "d-1", ProposalID: "p-1", DocumentFileID: "f-1"}, want: queue.ErrOwnerAmbiguous},
		{name: "missing owner record", job: queue.Job{DraftID: "d-missing", DocumentFileID: "orphan"}, want: ErrMissingOwner},
	}
	for _, tt := range tests {
		_, err := h.svc.Process(context.Background(), tt.job)
		var integrity *IntegrityError
		if !errors.As(err, &integrity) || !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected integrity fault wrapping %v, got %v", tt.name, tt.want, err)
		}
		if code, retryable := Classify(err); code != CodeIntegrity || retryable {
			t.Fatalf("%s: unexpected classification %s %v", tt.name, code, retryable)
		}
	}
	if len(h.results.All()) != 0 {
		t.Fatalf("integrity faults must not persist results")
	}
}

func TestTextDetectionFailuresAreRetryable(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	h.addFile(t, "f-1", documents.KindIDFront, "", "d-1", "application/pdf", pdfBytes)
	job := queue.Job{DraftID: "d-1", DocumentFileID: "f-1"}

	h.detector.err = errors.New("vision http status 503: unavailable")
	_, err := h.svc.Process(context.Background(), job)
	if code, retryable := Classify(err); code != CodeTextDetection || !retryable {
		t.Fatalf("unexpected classification %s %v for %v", code, retryable, err)
	}
	if !strings.Contains(err.Error(), "text detection") {
		t.Fatalf("error should carry stage context: %v", err)
	}

	h.detector.err = &textdetect.RateLimitedError{RetryAfter: 4 * time.Second}
	_, err = h.svc.Process(context.Background(), job)
	if code, _ := Classify(err); code != CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", code)
	}
	if d, ok := RetryAfter(err); !ok || d != 4*time.Second {
		t.Fatalf("expected retry after 4s, got %s %v", d, ok)
	}
	if len(h.results.All()) != 0 {
		t.Fatalf("failed attempts must not persist results")
	}
}

func TestMissingObjectIsStorageError(t *testing.T) {
	h := newHarness(t, rgText)
	_ = h.drafts.Create(context.Background(), drafts.Draft{ID: "d-1"})
	_ = h.docs.Create(context.Background(), documents.DocumentFile{ID: "f-1", DraftID: "d-1", Kind: documents.KindIDFront, StorageKey: "gone.pdf", ContentType: "application/pdf"})

	_, err := h.svc.Process(context.Background(), queue.Job{DraftID: "d-1", DocumentFileID: "f-1"})
	if code, retryable := Classify(err); code != CodeStorage || !retryable {
		t.Fatalf("unexpected classification %s %v for %v", code, retryable, err)
	}
}

func TestProofOfResidenceParsesAddress(t *testing.T) {
	h := newHarness(t, addressText)
	h.proposals.Put(proposals.Proposal{ID: "p-1", Status: proposals.StatusSubmitted}, proposals.Person{ID: "x", FullName: "Someone Else"})
	h.addFile(t, "f-1", documents.KindProofOfResidence, "p-1", "", "application/pdf", pdfBytes)

	outcome, err := h.svc.Process(context.Background(), queue.Job{ProposalID: "p-1", DocumentFileID: "f-1"})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s %v", outcome, err)
	}
	res := h.results.All()[0]
	if res.StructuredData.DocumentType != ocr.DocumentTypeProofOfResidence || res.StructuredData.Fields["cep"] != "88010400" {
		t.Fatalf("unexpected address data %+v", res.StructuredData)
	}
	if res.Heuristics.Comparison != nil || res.Heuristics.DocType != nil {
		t.Fatalf("address documents are not compared or classified")
	}
	if p, _ := h.proposals.GetByID(context.Background(), "p-1"); p.Status != proposals.StatusSubmitted {
		t.Fatalf("address documents must not transition proposals")
	}
}

func TestClassifyUnknownErrors(t *testing.T) {
	if code, retryable := Classify(errors.New("boom")); code != CodeInternal || !retryable {
		t.Fatalf("unexpected %s %v", code, retryable)
	}
	if code, _ := Classify(nil); code != "" {
		t.Fatalf("nil error must have no code")
	}
}

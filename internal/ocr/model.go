// Package ocr holds the persisted record of each text-extraction attempt.
package ocr

import (
	"errors"
	"time"

	"docverify/internal/ocr/compare"
	"docverify/internal/ocr/parser"
	"docverify/internal/ocr/preprocess"
)

var (
	ErrNotFound  = errors.New("ocr result not found")
	ErrDuplicate = errors.New("ocr result already exists")
)

// DocumentTypeProofOfResidence labels address extractions.
const DocumentTypeProofOfResidence = "PROOF_OF_RESIDENCE"

// Score sources.
const (
	ScoreNameSimilarity = "name_similarity"
	ScoreFieldCoverage  = "field_coverage"
	ScoreNone           = "none"
)

// Result is one immutable extraction attempt for a document file.
type Result struct {
	ID             string         `json:"id"`
	DocumentFileID string         `json:"documentFileId"`
	ProposalID     string         `json:"proposalId,omitempty"`
	DraftID        string         `json:"draftId,omitempty"`
	RawText        string         `json:"rawText"`
	StructuredData StructuredData `json:"structuredData"`
	Score          float64        `json:"score"`
	Heuristics     Heuristics     `json:"heuristics"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// StructuredData holds the extracted fields keyed by snake_case name.
type StructuredData struct {
	DocumentType string            `json:"document_type"`
	Fields       map[string]string `json:"fields"`
}

// Heuristics is the diagnostic record of a run. Each pipeline stage fills
// its own sub-record; absent stages stay nil.
type Heuristics struct {
	RequestID   string                 `json:"requestId,omitempty"`
	Source      string                 `json:"source,omitempty"`
	ScoreSource string                 `json:"scoreSource,omitempty"`
	Preprocess  *preprocess.Meta       `json:"preprocess,omitempty"`
	Legibility  *preprocess.Legibility `json:"legibility,omitempty"`
	Transcript  *TranscriptCheck       `json:"transcript,omitempty"`
	DocType     *DocTypeCheck          `json:"docType,omitempty"`
	Comparison  *compare.Result        `json:"comparison,omitempty"`
	Expiry      *ExpiryCheck           `json:"expiry,omitempty"`

	// DroppedFields lists extracted fields removed for failing validation.
	DroppedFields []string `json:"droppedFields,omitempty"`
}

// TranscriptCheck summarizes the returned transcript.
type TranscriptCheck struct {
	Length        int     `json:"length"`
	MinLength     int     `json:"minLength"`
	Legible       bool    `json:"legible"`
	Tokens        int     `json:"tokens,omitempty"`
	AvgConfidence float64 `json:"avgConfidence,omitempty"`
}

// DocTypeCheck compares the declared file kind with the detected type.
type DocTypeCheck struct {
	Detected string   `json:"detected"`
	Expected string   `json:"expected"`
	Mismatch bool     `json:"mismatch"`
	RGScore  int      `json:"rgScore"`
	CNHScore int      `json:"cnhScore"`
	Matched  []string `json:"matched,omitempty"`
}

// ExpiryCheck flags documents past their validity date.
type ExpiryCheck struct {
	Date      string `json:"date"`
	Expired   bool   `json:"expired"`
	CheckedOn string `json:"checkedOn"`
}

// IdentityData converts parsed identity fields to their stored form.
func IdentityData(docType parser.DocumentType, f parser.IdentityFields) StructuredData {
	fields := map[string]string{}
	put(fields, "name", f.Name)
	put(fields, "cpf", f.CPF)
	put(fields, "rg_number", f.RGNumber)
	put(fields, "cnh_number", f.CNHNumber)
	put(fields, "issue_date", f.IssueDate)
	put(fields, "expiry_date", f.ExpiryDate)
	put(fields, "issuing_authority", f.IssuingAuthority)
	put(fields, "uf", f.UF)
	return StructuredData{DocumentType: string(docType), Fields: fields}
}

// AddressData converts parsed address fields to their stored form.
func AddressData(f parser.AddressFields) StructuredData {
	fields := map[string]string{}
	put(fields, "cep", f.CEP)
	put(fields, "street", f.Street)
	put(fields, "neighborhood", f.Neighborhood)
	put(fields, "city", f.City)
	put(fields, "uf", f.UF)
	return StructuredData{DocumentType: DocumentTypeProofOfResidence, Fields: fields}
}

// EmptyData is the structured payload of a run that extracted nothing.
func EmptyData(docType string) StructuredData {
	return StructuredData{DocumentType: docType, Fields: map[string]string{}}
}

func put(m map[string]string, key, val string) {
	if val != "" {
		m[key] = val
	}
}

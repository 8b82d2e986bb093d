package textdetect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"docverify/internal/shared/telemetry"
)

// SourcePDFTextLayer marks transcripts read from an embedded PDF text layer.
const SourcePDFTextLayer = "pdf_text_layer"

const defaultMinTextLayer = 20

// PDFTextLayer reads digitally generated PDFs locally and only calls Next
// for scans or images.
type PDFTextLayer struct {
	Next     Client
	MinChars int
}

// NewPDFTextLayer wraps next. minChars is the shortest text layer accepted.
func NewPDFTextLayer(next Client, minChars int) *PDFTextLayer {
	if minChars <= 0 {
		minChars = defaultMinTextLayer
	}
	return &PDFTextLayer{Next: next, MinChars: minChars}
}

func (p *PDFTextLayer) Enabled() bool { return p.Next != nil && p.Next.Enabled() }

func (p *PDFTextLayer) Detect(ctx context.Context, data []byte, contentType string) (Transcript, error) {
	if IsPDF(contentType) {
		text, err := ExtractPDFText(data)
		if err != nil {
			telemetry.Debug("textdetect.pdf_text_layer.unreadable", map[string]any{"error": err.Error()})
		} else if len(strings.TrimSpace(text)) >= p.MinChars {
			return Transcript{FullText: text, Source: SourcePDFTextLayer}, nil
		}
	}
	return p.Next.Detect(ctx, data, contentType)
}

// ExtractPDFText returns the plain text layer of a PDF.
func ExtractPDFText(data []byte) (text string, err error) {
	defer func() {
		// The pdf reader panics on some malformed inputs.
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(b), nil
}

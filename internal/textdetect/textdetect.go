// Package textdetect abstracts the external service that turns a document
// image or PDF into a transcript.
package textdetect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDisabled is returned by Disabled.Detect.
var ErrDisabled = errors.New("text detection disabled")

// Token is one recognized word.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the recognized text of a document.
type Transcript struct {
	FullText string
	Tokens   []Token
	// Source names the backend that produced the transcript.
	Source string
}

// AvgConfidence returns the mean token confidence, or 0 without tokens.
func (t Transcript) AvgConfidence() float64 {
	if len(t.Tokens) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range t.Tokens {
		sum += tok.Confidence
	}
	return sum / float64(len(t.Tokens))
}

// Client detects text in a document payload.
type Client interface {
	Enabled() bool
	Detect(ctx context.Context, data []byte, contentType string) (Transcript, error)
}

// Disabled is the client used when text detection is switched off.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Detect(context.Context, []byte, string) (Transcript, error) {
	return Transcript{}, ErrDisabled
}

// RateLimitedError reports that a call was refused before reaching the
// service. RetryAfter is how long to wait before trying again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("text detection rate limited, retry after %s", e.RetryAfter)
}

// IsPDF reports whether the content type denotes a PDF.
func IsPDF(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/pdf"
}

var _ Client = Disabled{}

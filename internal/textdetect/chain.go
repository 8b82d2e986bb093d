package textdetect

import "docverify/internal/shared/ratelimit"

// Chain assembles the production client around remote:
// PDF text layer (optional) -> retry -> rate limit -> remote.
// The limiter sits inside the retry so every remote attempt takes a token.
// pdfMinChars <= 0 leaves the PDF text layer out.
func Chain(remote Client, limiter ratelimit.Limiter, rule ratelimit.Rule, pdfMinChars int) Client {
	var c Client = NewRetrying(NewRateLimited(remote, limiter, rule))
	if pdfMinChars > 0 {
		c = NewPDFTextLayer(c, pdfMinChars)
	}
	return c
}

package textdetect

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"docverify/internal/shared/telemetry"
)

const retryBaseDelay = 300 * time.Millisecond

// Retrying retries a failed call once when the failure looks transient.
// Longer outages are left to queue redelivery.
type Retrying struct {
	Next  Client
	Delay time.Duration
}

// NewRetrying wraps next with a single in-process retry.
func NewRetrying(next Client) *Retrying {
	return &Retrying{Next: next, Delay: retryBaseDelay}
}

func (r *Retrying) Enabled() bool { return r.Next != nil && r.Next.Enabled() }

func (r *Retrying) Detect(ctx context.Context, data []byte, contentType string) (Transcript, error) {
	t, err := r.Next.Detect(ctx, data, contentType)
	if err == nil || !shouldRetry(err) {
		return t, err
	}

	telemetry.Warn("textdetect.retry", map[string]any{
		"attempt": 1,
		"error":   err.Error(),
	})
	select {
	case <-time.After(r.Delay):
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
	return r.Next.Detect(ctx, data, contentType)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "unexpected eof")
}

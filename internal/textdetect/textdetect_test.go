package textdetect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"docverify/internal/shared/ratelimit"
)

type fakeClient struct {
	calls int
	errs  []error
	text  string
}

func (f *fakeClient) Enabled() bool { return true }

func (f *fakeClient) Detect(ctx context.Context, data []byte, contentType string) (Transcript, error) {
	f.calls++
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return Transcript{}, f.errs[f.calls-1]
	}
	return Transcript{FullText: f.text, Source: "fake"}, nil
}

type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
	err        error
}

func (s stubLimiter) Allow(ctx context.Context, key string, rule ratelimit.Rule) (bool, time.Duration, error) {
	return s.allow, s.retryAfter, s.err
}

func TestRateLimitedRefusesWithoutCallingService(t *testing.T) {
	next := &fakeClient{text: "hello"}
	rl := NewRateLimited(next, stubLimiter{allow: false, retryAfter: 7 * time.Second}, ratelimit.Rule{Limit: 1, Window: time.Minute})

	_, err := rl.Detect(context.Background(), []byte("x"), "image/jpeg")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected retry after %s", limited.RetryAfter)
	}
	if next.calls != 0 {
		t.Fatalf("service must not be called, got %d calls", next.calls)
	}
}

func TestRateLimitedPassesThroughWhenAllowed(t *testing.T) {
	next := &fakeClient{text: "hello"}
	rl := NewRateLimited(next, ratelimit.NewTokenBucket(time.Now), ratelimit.Rule{Limit: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := rl.Detect(context.Background(), nil, "image/jpeg"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := rl.Detect(context.Background(), nil, "image/jpeg"); err == nil {
		t.Fatalf("expected third call within window to be refused")
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 service calls, got %d", next.calls)
	}
}

func TestRateLimitedSurfacesLimiterErrors(t *testing.T) {
	rl := NewRateLimited(&fakeClient{}, stubLimiter{err: errors.New("redis down")}, ratelimit.Rule{Limit: 1, Window: time.Second})
	if _, err := rl.Detect(context.Background(), nil, "image/png"); err == nil {
		t.Fatalf("expected limiter error")
	}
}

func TestRetryingRetriesTransientOnce(t *testing.T) {
	next := &fakeClient{text: "ok", errs: []error{fmt.Errorf("vision http status 503: unavailable")}}
	r := &Retrying{Next: next, Delay: time.Millisecond}
	got, err := r.Detect(context.Background(), nil, "image/jpeg")
	if err != nil {
		t.Fatalf("expected success after retry: %v", err)
	}
	if got.FullText != "ok" || next.calls != 2 {
		t.Fatalf("unexpected result %+v calls=%d", got, next.calls)
	}
}

type countingLimiter struct {
	allow bool
	calls int
}

func (c *countingLimiter) Allow(ctx context.Context, key string, rule ratelimit.Rule) (bool, time.Duration, error) {
	c.calls++
	return c.allow, 3 * time.Second, nil
}

func TestChainSpendsATokenPerRemoteAttempt(t *testing.T) {
	remote := &fakeClient{text: "ok", errs: []error{fmt.Errorf("vision http status 503: unavailable")}}
	limiter := &countingLimiter{allow: true}
	c := Chain(remote, limiter, ratelimit.Rule{Limit: 10, Window: time.Minute}, 0)
	retrying, ok := c.(*Retrying)
	if !ok {
		t.Fatalf("expected retry as the outer layer, got %T", c)
	}
	retrying.Delay = time.Millisecond

	if _, err := c.Detect(context.Background(), nil, "image/jpeg"); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if remote.calls != 2 || limiter.calls != 2 {
		t.Fatalf("expected one token per remote call, remote=%d limiter=%d", remote.calls, limiter.calls)
	}
}

func TestChainDoesNotRetryRefusedCalls(t *testing.T) {
	remote := &fakeClient{text: "ok"}
	limiter := &countingLimiter{}
	c := Chain(remote, limiter, ratelimit.Rule{Limit: 1, Window: time.Minute}, 20)
	if _, ok := c.(*PDFTextLayer); !ok {
		t.Fatalf("expected PDF text layer outermost, got %T", c)
	}

	_, err := c.Detect(context.Background(), nil, "image/jpeg")
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != 3*time.Second {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if remote.calls != 0 || limiter.calls != 1 {
		t.Fatalf("refused call must not be retried, remote=%d limiter=%d", remote.calls, limiter.calls)
	}
}

func TestRetryingSkipsPermanentAndRateLimited(t *testing.T) {
	for _, e := range []error{errors.New("vision http status 400: bad image"), &RateLimitedError{RetryAfter: time.Second}} {
		next := &fakeClient{errs: []error{e}}
		r := &Retrying{Next: next, Delay: time.Millisecond}
		if _, err := r.Detect(context.Background(), nil, "image/jpeg"); err == nil {
			t.Fatalf("expected error for %v", e)
		}
		if next.calls != 1 {
			t.Fatalf("expected no retry for %v, got %d calls", e, next.calls)
		}
	}
}

func TestPDFTextLayerFallsBackForImagesAndBadPDFs(t *testing.T) {
	next := &fakeClient{text: "remote"}
	p := NewPDFTextLayer(next, 10)

	got, err := p.Detect(context.Background(), []byte("jpeg bytes"), "image/jpeg")
	if err != nil || got.FullText != "remote" {
		t.Fatalf("images must go to the remote client: %+v %v", got, err)
	}
	got, err = p.Detect(context.Background(), []byte("%PDF-broken"), "application/pdf")
	if err != nil || got.FullText != "remote" {
		t.Fatalf("unreadable pdf must fall back: %+v %v", got, err)
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 remote calls, got %d", next.calls)
	}
}

func TestDisabledAndConfidence(t *testing.T) {
	if (Disabled{}).Enabled() {
		t.Fatalf("Disabled must report disabled")
	}
	if _, err := (Disabled{}).Detect(context.Background(), nil, ""); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	tr := Transcript{Tokens: []Token{{Text: "A", Confidence: 0.5}, {Text: "B", Confidence: 1}}}
	if tr.AvgConfidence() != 0.75 {
		t.Fatalf("unexpected avg %v", tr.AvgConfidence())
	}
	if !IsPDF("Application/PDF; charset=binary") || IsPDF("image/png") {
		t.Fatalf("IsPDF misclassified")
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"docverify/internal/shared/server/respond"
)

func healthRequest() events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		Version:  "2.0",
		RouteKey: "GET /api/v1/health",
		RawPath:  "/api/v1/health",
		Headers:  map[string]string{"accept": "application/json"},
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "gw-1",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method: http.MethodGet,
				Path:   "/api/v1/health",
			},
		},
	}
}

func TestProxyRetriesBootstrapAfterFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	builds := 0
	p := &proxy{build: func() (*gin.Engine, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("database unreachable")
		}
		r := gin.New()
		r.GET("/api/v1/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
		return r, nil
	}}

	resp, err := p.handle(context.Background(), healthRequest())
	if err != nil {
		t.Fatalf("failed bootstrap must not fail the invocation: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Headers["Retry-After"] == "" {
		t.Fatalf("expected 503 with Retry-After, got %d %v", resp.StatusCode, resp.Headers)
	}
	var body respond.ErrorResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil || body.Error.Code != "unavailable" {
		t.Fatalf("expected error envelope, got %q (%v)", resp.Body, err)
	}

	for i := 0; i < 2; i++ {
		resp, err = p.handle(context.Background(), healthRequest())
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d %v", i, resp.StatusCode, err)
		}
	}
	if builds != 2 {
		t.Fatalf("expected one retry then reuse, got %d builds", builds)
	}
}

// Package vision calls the Google Cloud Vision REST API for document text
// detection.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"docverify/internal/shared/metrics"
	"docverify/internal/textdetect"
)

const (
	DefaultEndpoint   = "https://vision.googleapis.com"
	cloudVisionScope  = "https://www.googleapis.com/auth/cloud-vision"
	featureType       = "DOCUMENT_TEXT_DETECTION"
	maxPDFPages       = 5
	defaultRetryAfter = 30 * time.Second
	// Source is recorded on transcripts produced by this client.
	Source = "vision"
)

// Options configures a Client. Either APIKey or CredentialsFile is required.
type Options struct {
	Endpoint        string
	APIKey          string
	CredentialsFile string
	Timeout         time.Duration
	// HTTPClient overrides the transport; used by tests.
	HTTPClient *http.Client
}

// Client implements textdetect.Client against Cloud Vision.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Client. A service-account file is exchanged for OAuth2
// tokens through golang.org/x/oauth2/google.
func New(ctx context.Context, opts Options) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{endpoint: endpoint, apiKey: strings.TrimSpace(opts.APIKey)}
	switch {
	case opts.HTTPClient != nil:
		c.httpClient = opts.HTTPClient
	case c.apiKey != "":
		c.httpClient = &http.Client{Timeout: timeout}
	case strings.TrimSpace(opts.CredentialsFile) != "":
		raw, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read vision credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, cloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("parse vision credentials: %w", err)
		}
		hc := oauth2.NewClient(ctx, creds.TokenSource)
		hc.Timeout = timeout
		c.httpClient = hc
	default:
		return nil, errors.New("GOOGLE_VISION_API_KEY or GOOGLE_VISION_CREDENTIALS_FILE is required")
	}
	return c, nil
}

// Enabled is always true; a disabled deployment uses textdetect.Disabled.
func (c *Client) Enabled() bool { return true }

// Detect transcribes an image or a PDF.
func (c *Client) Detect(ctx context.Context, data []byte, contentType string) (textdetect.Transcript, error) {
	start := time.Now()
	var (
		t   textdetect.Transcript
		err error
	)
	if textdetect.IsPDF(contentType) {
		t, err = c.detectFile(ctx, data)
	} else {
		t, err = c.detectImage(ctx, data)
	}
	metrics.ObserveTextDetectionLatency(time.Since(start))

	var limited *textdetect.RateLimitedError
	switch {
	case err == nil:
		metrics.IncTextDetectionCall("ok")
	case errors.As(err, &limited):
		metrics.IncTextDetectionCall("rate_limited")
	default:
		metrics.IncTextDetectionCall("error")
	}
	return t, err
}

type feature struct {
	Type string `json:"type"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints,omitempty"`
}

type imageContent struct {
	Content string `json:"content"`
}

type imageRequestItem struct {
	Image        imageContent `json:"image"`
	Features     []feature    `json:"features"`
	ImageContext imageContext `json:"imageContext"`
}

type imageRequest struct {
	Requests []imageRequestItem `json:"requests"`
}

type inputConfig struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type fileRequestItem struct {
	InputConfig  inputConfig  `json:"inputConfig"`
	Features     []feature    `json:"features"`
	ImageContext imageContext `json:"imageContext"`
	Pages        []int        `json:"pages"`
}

type fileRequest struct {
	Requests []fileRequestItem `json:"requests"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type annotateResponse struct {
	FullTextAnnotation *struct {
		Text  string `json:"text"`
		Pages []struct {
			Blocks []struct {
				Paragraphs []struct {
					Words []struct {
						Confidence float64 `json:"confidence"`
						Symbols    []struct {
							Text string `json:"text"`
						} `json:"symbols"`
					} `json:"words"`
				} `json:"paragraphs"`
			} `json:"blocks"`
		} `json:"pages"`
	} `json:"fullTextAnnotation"`
	Error *apiError `json:"error"`
}

type imageResponse struct {
	Responses []annotateResponse `json:"responses"`
}

type fileResponse struct {
	Responses []struct {
		Responses []annotateResponse `json:"responses"`
		Error     *apiError          `json:"error"`
	} `json:"responses"`
}

func (c *Client) detectImage(ctx context.Context, data []byte) (textdetect.Transcript, error) {
	req := imageRequest{Requests: []imageRequestItem{{
		Image:        imageContent{Content: base64.StdEncoding.EncodeToString(data)},
		Features:     []feature{{Type: featureType}},
		ImageContext: imageContext{LanguageHints: []string{"pt"}},
	}}}

	var resp imageResponse
	if err := c.post(ctx, "/v1/images:annotate", req, &resp); err != nil {
		return textdetect.Transcript{}, err
	}
	if len(resp.Responses) == 0 {
		return textdetect.Transcript{Source: Source}, nil
	}
	return collect(resp.Responses)
}

func (c *Client) detectFile(ctx context.Context, data []byte) (textdetect.Transcript, error) {
	item := fileRequestItem{
		InputConfig:  inputConfig{Content: base64.StdEncoding.EncodeToString(data), MimeType: "application/pdf"},
		Features:     []feature{{Type: featureType}},
		ImageContext: imageContext{LanguageHints: []string{"pt"}},
	}
	for p := 1; p <= maxPDFPages; p++ {
		item.Pages = append(item.Pages, p)
	}
	req := fileRequest{Requests: []fileRequestItem{item}}

	var resp fileResponse
	if err := c.post(ctx, "/v1/files:annotate", req, &resp); err != nil {
		return textdetect.Transcript{}, err
	}
	var pages []annotateResponse
	for _, r := range resp.Responses {
		if r.Error != nil {
			return textdetect.Transcript{}, fmt.Errorf("vision error: %s (code %d)", r.Error.Message, r.Error.Code)
		}
		pages = append(pages, r.Responses...)
	}
	return collect(pages)
}

func collect(responses []annotateResponse) (textdetect.Transcript, error) {
	t := textdetect.Transcript{Source: Source}
	var texts []string
	for _, r := range responses {
		if r.Error != nil && r.Error.Message != "" {
			return textdetect.Transcript{}, fmt.Errorf("vision error: %s (code %d)", r.Error.Message, r.Error.Code)
		}
		if r.FullTextAnnotation == nil {
			continue
		}
		texts = append(texts, r.FullTextAnnotation.Text)
		for _, page := range r.FullTextAnnotation.Pages {
			for _, block := range page.Blocks {
				for _, para := range block.Paragraphs {
					for _, word := range para.Words {
						var sb strings.Builder
						for _, s := range word.Symbols {
							sb.WriteString(s.Text)
						}
						t.Tokens = append(t.Tokens, textdetect.Token{Text: sb.String(), Confidence: word.Confidence})
					}
				}
			}
		}
	}
	t.FullText = strings.Join(texts, "\n")
	return t, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	target := c.endpoint + path
	if c.apiKey != "" {
		target += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return fmt.Errorf("vision request timeout: %w", err)
		}
		return fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vision read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &textdetect.RateLimitedError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vision http status %d: %s", resp.StatusCode, snippet(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("vision response parse: %w", err)
	}
	return nil
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var _ textdetect.Client = (*Client)(nil)

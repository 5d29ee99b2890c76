// Package analysis talks to the text-analysis service used for expert legal
// reviews. The service is opaque: any failure degrades the review to
// requires_legal_review instead of failing the request.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reviewflow/internal/domain"
	"reviewflow/internal/retry"
)

var ErrNotConfigured = errors.New("text analysis service not configured")

type Result struct {
	IsValid         bool     `json:"is_valid"`
	ConfidenceLevel string   `json:"confidence_level"`
	Issues          []string `json:"issues"`
	Warnings        []string `json:"warnings"`
}

type Analyzer interface {
	Analyze(ctx context.Context, text, reqContext string) (Result, error)
}

// Unconfigured is used when no service URL is set.
type Unconfigured struct{}

func (Unconfigured) Analyze(context.Context, string, string) (Result, error) {
	return Result{}, ErrNotConfigured
}

// Validate runs a and converts its answer into a ValidationResult. Errors
// never escape: they produce a degraded result that needs a legal expert.
func Validate(ctx context.Context, a Analyzer, logger *slog.Logger, text, reqContext string) domain.ValidationResult {
	if a == nil {
		a = Unconfigured{}
	}
	res, err := a.Analyze(ctx, text, reqContext)
	if err != nil {
		if logger != nil {
			logger.Warn("text analysis failed; review requires legal expert", "error", err)
		}
		return domain.ValidationResult{
			Outcome:  domain.ValidationRequiresLegalReview,
			Warnings: []string{"automated analysis unavailable"},
			Degraded: true,
		}
	}
	out := domain.ValidationResult{
		IsValid:         res.IsValid,
		ConfidenceLevel: res.ConfidenceLevel,
		Issues:          res.Issues,
		Warnings:        res.Warnings,
	}
	switch {
	case !res.IsValid:
		out.Outcome = domain.ValidationInvalid
	case strings.EqualFold(res.ConfidenceLevel, "low"):
		out.Outcome = domain.ValidationRequiresLegalReview
	default:
		out.Outcome = domain.ValidationValid
	}
	return out
}

// HTTPClient posts {text, context} as JSON and expects a Result back.
type HTTPClient struct {
	URL   string
	HTTP  *http.Client
	Retry retry.Policy
}

type Option func(*HTTPClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.HTTP = c }
}

// WithRetry bounds retries of 5xx and 429 answers with the shared adapter policy.
func WithRetry(p retry.Policy) Option {
	return func(h *HTTPClient) { h.Retry = p }
}

func NewHTTPClient(url string, timeout time.Duration, opts ...Option) *HTTPClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &HTTPClient{
		URL:   url,
		HTTP:  &http.Client{Timeout: timeout},
		Retry: retry.Policy{InitialInterval: 50 * time.Millisecond, MaxElapsed: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

func (c *HTTPClient) Analyze(ctx context.Context, text, reqContext string) (Result, error) {
	body, err := json.Marshal(analyzeRequest{Text: text, Context: reqContext})
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("analysis service returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return backoff.Permanent(fmt.Errorf("decode analysis response: %w", err))
		}
		return nil
	}, c.Retry.BackOff(ctx))
	return res, err
}

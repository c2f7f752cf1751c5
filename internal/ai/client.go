package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/indicators"
)

const maxReasoningLen = 200

// Client calls a remote analysis endpoint over HTTP.
type Client struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient builds a client with the given per-request timeout.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Request
	Prompt string `json:"prompt"`
}

// Analyze posts the request and decodes the verdict. A body that is not a
// JSON verdict yields HOLD at 50 with the raw text as reasoning.
func (c *Client) Analyze(ctx context.Context, req Request) (Analysis, error) {
	payload, err := json.Marshal(analyzeRequest{Request: req, Prompt: BuildPrompt(req)})
	if err != nil {
		return Analysis{}, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	res, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis %s: %w: %v", req.Symbol, errs.ErrDataUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis %s: read body: %w: %v", req.Symbol, errs.ErrDataUnavailable, err)
	}
	if res.StatusCode != http.StatusOK {
		return Analysis{}, fmt.Errorf("analysis %s: status %d: %w", req.Symbol, res.StatusCode, errs.ErrDataUnavailable)
	}

	var out Analysis
	if err := json.Unmarshal(body, &out); err != nil {
		text := truncateRunes(string(body), maxReasoningLen)
		return Analysis{
			Regime:         "trend",
			Recommendation: indicators.ActionHold,
			Confidence:     50,
			Reasoning:      text,
			Risks:          "Unable to parse full analysis",
		}, nil
	}
	return normalize(out), nil
}

// truncateRunes keeps at most n characters of s without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

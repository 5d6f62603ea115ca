package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// maxResponseSize caps the response body read to guard against a runaway
// endpoint exhausting memory.
const maxResponseSize = 10 * 1024 * 1024

// Endpoint describes the single model endpoint the client talks to.
type Endpoint struct {
	// Provider selects the wire format ("openai", "anthropic").
	Provider string
	// Model is the provider's model identifier.
	Model string
	// BaseURL is the API base; empty uses the provider default.
	BaseURL string
	// APIKey authenticates the request; empty falls back to the provider's
	// environment variable convention.
	APIKey string
	// Timeout bounds one HTTP call. It must be shorter than the job's overall
	// retry deadline; a timeout counts as a transient failure.
	Timeout time.Duration
}

// RetryConfig bounds retries of transient failures within one Generate call.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Request is one generation request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64
	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int
}

// Response is the generation result.
type Response struct {
	Content      string
	Model        string
	FinishReason string
}

// Client calls one configured model endpoint with retry and classification.
type Client struct {
	endpoint   Endpoint
	retry      RetryConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given endpoint.
func NewClient(ep Endpoint, opts ...Option) (*Client, error) {
	if GetProvider(ep.Provider) == nil {
		return nil, fmt.Errorf("unknown provider: %s", ep.Provider)
	}
	if ep.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if ep.Timeout <= 0 {
		ep.Timeout = 60 * time.Second
	}

	c := &Client{
		endpoint: ep,
		retry:    DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: ep.Timeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate sends the request, retrying transient failures with bounded
// exponential backoff. Fatal errors return immediately.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.UserPrompt == "" {
		return nil, NewFatalError(fmt.Errorf("user prompt is required"))
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Debug("generation failed, retrying",
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, NewTransientError(ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff with +/-25% jitter so
// synchronized retries spread out.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retry.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retry.BackoffBase) * multiplier)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP call to the endpoint.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	provider := GetProvider(c.endpoint.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", c.endpoint.Provider))
	}

	body, err := provider.BuildRequestBody(c.endpoint.Model, req.SystemPrompt, req.UserPrompt, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := provider.BuildURL(c.endpoint.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, c.endpoint.APIKey)

	c.logger.Debug("sending generation request",
		"provider", c.endpoint.Provider,
		"model", c.endpoint.Model,
		"url", url)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and client timeouts are transient.
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody)
}

// classifyHTTPError decides whether an HTTP error status is worth retrying.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("model API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		// Credential problems will not fix themselves.
		return NewFatalError(err)
	case statusCode >= 400:
		return NewFatalError(err)
	default:
		return NewTransientError(err)
	}
}

package mle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/transform"
)

// ErrorDetail describes a failed outbound call in a form the processor can
// aggregate into its errors list.
type ErrorDetail struct {
	System     string `json:"system"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// Result is the outcome of one MLE API call. Failures are data, not
// errors: the caller decides what to do with a non-retryable rejection.
type Result struct {
	Success      bool           `json:"success"`
	TargetID     string         `json:"targetId,omitempty"`
	Status       string         `json:"status,omitempty"`
	Message      string         `json:"message,omitempty"`
	ResponseData map[string]any `json:"responseData,omitempty"`
	Error        *ErrorDetail   `json:"error,omitempty"`
	Retryable    bool           `json:"retryable,omitempty"`
}

// Syncer is the operation surface of the MLE API. Client implements it
// directly; RetryingSyncer wraps it with bounded backoff.
type Syncer interface {
	Create(ctx context.Context, data *transform.NormalizedMetadata) (*Result, error)
	Update(ctx context.Context, id string, data *transform.NormalizedMetadata) (*Result, error)
	Remove(ctx context.Context, id string) (*Result, error)
}

// TokenSource supplies bearer tokens for outbound calls.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// ClientConfig holds the target API settings.
type ClientConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// Client performs create/update/remove calls against the MLE asset API.
// It classifies failures but never retries; retry policy belongs to the
// caller.
type Client struct {
	baseURL    string
	apiVersion string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with a bounded request timeout.
func NewClient(cfg ClientConfig, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Create registers a new asset record.
func (c *Client) Create(ctx context.Context, data *transform.NormalizedMetadata) (*Result, error) {
	return c.do(ctx, http.MethodPost, c.assetsURL(""), data)
}

// Update replaces the record for an existing asset.
func (c *Client) Update(ctx context.Context, id string, data *transform.NormalizedMetadata) (*Result, error) {
	return c.do(ctx, http.MethodPut, c.assetsURL(id), data)
}

// Remove deletes the record for an asset.
func (c *Client) Remove(ctx context.Context, id string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, c.assetsURL(id), nil)
}

func (c *Client) assetsURL(id string) string {
	u := fmt.Sprintf("%s/%s/assets", c.baseURL, c.apiVersion)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *Client) do(ctx context.Context, method, endpoint string, data *transform.NormalizedMetadata) (*Result, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("mle: marshal metadata: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("mle: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Version", c.apiVersion)
	req.Header.Set("X-Source-System", "AEM")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// No response at all: network-level failure, worth retrying.
		c.logger.Warn("mle request failed", zap.String("method", method), zap.Error(err))
		return &Result{
			Success:   false,
			Retryable: true,
			Error: &ErrorDetail{
				System:    "target",
				Message:   err.Error(),
				Retryable: true,
			},
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := retryableStatus(resp.StatusCode)
		c.logger.Warn("mle rejected request",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.Bool("retryable", retryable))
		return &Result{
			Success:   false,
			Status:    resp.Status,
			Retryable: retryable,
			Error: &ErrorDetail{
				System:     "target",
				Message:    fmt.Sprintf("mle returned %d: %s", resp.StatusCode, truncate(respBody, 512)),
				StatusCode: resp.StatusCode,
				Retryable:  retryable,
			},
		}, nil
	}

	result := &Result{
		Success: true,
		Status:  resp.Status,
		Message: http.StatusText(resp.StatusCode),
	}
	if len(respBody) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			result.ResponseData = parsed
			if id, ok := parsed["id"].(string); ok {
				result.TargetID = id
			}
		}
	}
	if result.TargetID == "" && data != nil {
		result.TargetID = data.AssetID
	}
	return result, nil
}

// retryableStatus reports whether a failing status is worth retrying:
// server errors and rate limits are, any other 4xx is a caller error that
// will not succeed on a second attempt.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}

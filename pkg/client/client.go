// Package client is a Go client for the healthxai HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/predlog"
)

const userAgent = "healthxai-go-client/1.0"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to one healthxai server.
type Client struct {
	baseURL    string
	adminUser  string
	adminPass  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAdmin sets the basic-auth credentials for the admin endpoints.
func WithAdmin(user, pass string) Option {
	return func(c *Client) { c.adminUser, c.adminPass = user, pass }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict scores fields with the named model and returns the explained prediction.
func (c *Client) Predict(ctx context.Context, req api.PredictRequest) (*api.PredictResponse, error) {
	var out api.PredictResponse
	if err := c.post(ctx, "/api/predict", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExplainLocal fits the local surrogate only.
func (c *Client) ExplainLocal(ctx context.Context, req api.PredictRequest) (*api.LimeExplanationResult, error) {
	var out api.LimeExplanationResult
	if err := c.post(ctx, "/api/explain/local", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the loaded models.
func (c *Client) Models(ctx context.Context) ([]api.ModelInfo, error) {
	var out []api.ModelInfo
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PredictionPage is one page of the prediction log.
type PredictionPage struct {
	Total       int              `json:"total"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
	Predictions []predlog.Record `json:"predictions"`
}

// Predictions pages through the prediction log, newest first. Requires admin
// credentials when the server has them configured.
func (c *Client) Predictions(ctx context.Context, limit, offset int) (*PredictionPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out PredictionPage
	if err := c.do(ctx, http.MethodGet, "/api/predictions?"+q.Encode(), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthCheck checks if the server is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, data, false, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, admin bool, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if admin && c.adminUser != "" {
		req.SetBasicAuth(c.adminUser, c.adminPass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 300:
		var e api.ErrorResponse
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

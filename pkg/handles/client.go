// Package handles is the client for the external identifier (PID) service.
// The service is the source of truth other systems resolve identifiers
// against, so updates to its records always happen before any store write.
package handles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Entity kinds registered with the identifier service.
const (
	KindSpecimen = "digital-specimen"
	KindMedia    = "digital-media"
)

// Request registers one new entity under its natural key. Registration is
// idempotent: assigning a natural key that already has a handle returns the
// existing handle instead of erroring.
type Request struct {
	NaturalKey string         `json:"natural_key"`
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Update rewrites the mutable attributes of one existing handle record.
type Update struct {
	PID        string         `json:"pid"`
	Attributes map[string]any `json:"attributes"`
}

// Config holds identifier service client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client wraps HTTP access to the identifier service
type Client struct {
	baseURL string
	client  *http.Client
	logger  ectologger.Logger
}

// NewClient creates a new identifier service client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Assign requests handles for a batch of new entities in one round trip and
// returns a natural key -> PID map. Keys missing from the returned map could
// not be assigned; the caller decides what to do with their events.
func (c *Client) Assign(ctx context.Context, requests []Request) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "handles.Client.Assign")
	defer span.End()

	if len(requests) == 0 {
		return map[string]string{}, nil
	}

	var response struct {
		Handles map[string]string `json:"handles"`
	}
	if err := c.post(ctx, "/api/v1/pids/batch", requests, &response); err != nil {
		metrics.PidRequestsTotal.WithLabelValues("assign", "error").Inc()
		return nil, fmt.Errorf("failed to assign handles: %w", err)
	}

	metrics.PidRequestsTotal.WithLabelValues("assign", "ok").Inc()
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"requested": len(requests),
		"assigned":  len(response.Handles),
	}).Debug("Assigned handles")
	return response.Handles, nil
}

// Update rewrites the mutable handle attributes for entities whose natural
// identity fields changed.
func (c *Client) Update(ctx context.Context, updates []Update) error {
	ctx, span := tracing.StartSpan(ctx, "handles.Client.Update")
	defer span.End()

	if len(updates) == 0 {
		return nil
	}

	if err := c.post(ctx, "/api/v1/pids/update", updates, nil); err != nil {
		metrics.PidRequestsTotal.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("failed to update handles: %w", err)
	}
	metrics.PidRequestsTotal.WithLabelValues("update", "ok").Inc()
	return nil
}

// Rollback releases handles assigned earlier in the same batch attempt. One
// call releases the whole group; compensation never loops per entity.
func (c *Client) Rollback(ctx context.Context, pids []string) error {
	ctx, span := tracing.StartSpan(ctx, "handles.Client.Rollback")
	defer span.End()

	if len(pids) == 0 {
		return nil
	}

	if err := c.post(ctx, "/api/v1/pids/rollback", pids, nil); err != nil {
		metrics.PidRequestsTotal.WithLabelValues("rollback", "error").Inc()
		return fmt.Errorf("failed to roll back handles: %w", err)
	}
	metrics.PidRequestsTotal.WithLabelValues("rollback", "ok").Inc()
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("Identifier service request failed: POST %s", path)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identifier service returned status %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

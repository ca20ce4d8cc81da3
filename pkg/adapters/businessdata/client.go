// Package businessdata is an HTTP client for the business-data service that
// supplies vision, mission, goals and core values for prompt enrichment.
package businessdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/coachflow/pkg/domain"
)

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 2 * time.Second

// Client implements ports.BusinessDataClient.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBearerToken authenticates requests.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetContext fetches the business context for a user within a tenant.
// An unknown user yields a *domain.NotFoundError.
func (c *Client) GetContext(ctx context.Context, userID, tenantID string) (*domain.BusinessContext, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if tenantID != "" {
		q.Set("tenant_id", tenantID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/business-context?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.NotFoundError{Kind: "business_context", ID: userID}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("business data: status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var bc domain.BusinessContext
	if err := json.NewDecoder(resp.Body).Decode(&bc); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return &bc, nil
}

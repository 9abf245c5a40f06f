// Package registry talks to the external account registry and secret store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusLive marks an account as eligible for server provisioning.
const StatusLive = "LIVE"

// Account is one entry returned by the account registry API.
type Account struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Status    string         `json:"status"`
	SecretRef string         `json:"klaviyo_secret_name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Eligible reports whether the account should get a managed server process.
func (a Account) Eligible() bool {
	return a.Status == StatusLive && a.SecretRef != ""
}

// Client fetches accounts from the registry API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a registry client for the given endpoint URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListAccounts returns every account known to the registry.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var accounts []Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}
	return accounts, nil
}

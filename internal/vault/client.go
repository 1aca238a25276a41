// Package vault proxies per-user secret storage. The vault speaks its own
// JSON; this backend forwards it untouched under the caller's bearer token.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client talks to the vault secret uploader service.
type Client struct {
	endpoint string
	http     *http.Client
	log      *zap.SugaredLogger
}

// NewClient builds a vault client for the given address and port. A bare
// address defaults to http.
func NewClient(address string, port int, log *zap.SugaredLogger) *Client {
	endpoint := address + ":" + strconv.Itoa(port)
	if len(address) < 4 || address[:4] != "http" {
		endpoint = "http://" + endpoint
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// List returns the caller's stored credentials.
func (c *Client) List(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, c.endpoint, accessToken, nil)
}

// Upload stores a credential set for the caller.
func (c *Client) Upload(ctx context.Context, accessToken string, credentials map[string]string) (json.RawMessage, error) {
	body, err := json.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}
	return c.call(ctx, http.MethodPost, c.endpoint, accessToken, bytes.NewReader(body))
}

// Delete removes one stored credential by key.
func (c *Client) Delete(ctx context.Context, accessToken, key string) error {
	_, err := c.call(ctx, http.MethodDelete, c.endpoint+"/"+key, accessToken, nil)
	return err
}

func (c *Client) call(ctx context.Context, method, target, accessToken string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build vault request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vault returned HTTP %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

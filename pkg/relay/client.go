// Package relay implements the HTTP client for the downstream dispatch
// service. The downstream is opaque and untrusted: the only contract is that
// it accepts a JSON body and answers within the configured timeout.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	httpClient *http.Client
	url        string
}

// NewClient creates a client for the downstream endpoint. The timeout bounds
// the whole call; there is no retry.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url: url,
	}
}

type dispatchRequest struct {
	Target     string `json:"target"`
	IP         string `json:"ip"`
	Iterations int    `json:"iterations"`
}

// Send posts one dispatch job downstream and returns the raw response body.
// A non-2xx status is an error; the body is included for the dispatch log.
func (c *Client) Send(ctx context.Context, target, clientIP string, iterations int) (string, error) {
	payload, err := json.Marshal(dispatchRequest{
		Target:     target,
		IP:         clientIP,
		Iterations: iterations,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read downstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("downstream error (status %d): %s", resp.StatusCode, string(body))
	}

	return string(body), nil
}

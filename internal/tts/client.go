package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config contains synthesis client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Voice    string
	Format   string // output container requested from the backend
}

// Client sends text to the synthesis backend and returns encoded audio.
type Client struct {
	config     Config
	httpClient *http.Client

	totalRequests  uint64
	failedRequests uint64
	totalBytes     uint64
	mu             sync.RWMutex
}

// Stats represents synthesis client statistics
type Stats struct {
	TotalRequests  uint64 `json:"total_requests"`
	FailedRequests uint64 `json:"failed_requests"`
	TotalBytes     uint64 `json:"total_bytes"`
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// NewClient creates a new synthesis HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.Format == "" {
		config.Format = "wav"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Synthesize converts text to encoded audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	payload, err := json.Marshal(synthesizeRequest{
		Text:   text,
		Voice:  c.config.Voice,
		Format: c.config.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	if len(body) == 0 {
		c.recordFailure()
		return nil, fmt.Errorf("empty audio response")
	}

	c.mu.Lock()
	c.totalBytes += uint64(len(body))
	c.mu.Unlock()

	return body, nil
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalBytes:     c.totalBytes,
	}
}

package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageRequest asks the image backend to render assets for a world entity.
type ImageRequest struct {
	WorkflowID string `json:"workflow_id"`
	Prompt     string `json:"prompt"`
	Count      int    `json:"count,omitempty"`
}

// ImageResult carries the backend references of the generated assets.
type ImageResult struct {
	AssetURLs []string `json:"asset_urls"`
}

// ImageClient is the asset generation port.
type ImageClient interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
	// Health reports whether the backend can accept work. Asset requests
	// stay queued while the backend is down.
	Health(ctx context.Context) error
}

// ImageConfig configures the HTTP image client.
type ImageConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type imageClient struct {
	cfg ImageConfig
}

// NewImageClient builds an image client for a workflow-based render server.
func NewImageClient(cfg ImageConfig) ImageClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &imageClient{cfg: cfg}
}

func (c *imageClient) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/generate"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling image backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image backend returned %d", resp.StatusCode)
	}

	var result ImageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling image response: %w", err)
	}
	return &result, nil
}

func (c *imageClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health"), nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling image backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image backend unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (c *imageClient) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}

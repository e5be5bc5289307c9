// Package bfl provides a Black Forest Labs-backed image provider using the BFL
// FLUX generation API. It implements the image.Provider interface.
//
// Generation is asynchronous on the BFL side: a job is submitted via
// POST /<model>, which returns a polling URL, and the result is then polled
// until the job reports Ready. Generate hides this behind a single blocking
// call bounded by ctx.
package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justraw/friction/pkg/provider/image"
)

const (
	defaultBaseURL      = "https://api.bfl.ai/v1"
	defaultModel        = "flux-2-klein-9b"
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxPolls     = 20
	requestTimeout      = 5 * time.Second

	// maxReferenceImages is the FLUX multi-reference limit.
	maxReferenceImages = 4
)

// Compile-time interface assertion.
var _ image.Provider = (*Provider)(nil)

// Option is a functional option for configuring a BFL Provider.
type Option func(*Provider)

// WithModel sets the FLUX model endpoint (e.g., "flux-2-klein-9b", "flux-pro-1.1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithPollInterval sets the delay between result polls. Defaults to 500 ms.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// WithMaxPolls sets how many result polls are attempted before giving up.
// Defaults to 20.
func WithMaxPolls(n int) Option {
	return func(p *Provider) {
		p.maxPolls = n
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// Provider implements image.Provider backed by the BFL FLUX API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxPolls     int
	client       *http.Client
}

// New creates a new BFL Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("bfl: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		client:       &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// submitResponse mirrors the BFL job submission response.
type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// pollResponse mirrors the BFL result poll response.
type pollResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.Request) (string, error) {
	if req.Prompt == "" {
		return "", errors.New("bfl: prompt must not be empty")
	}

	pollingURL, err := p.submit(ctx, req)
	if err != nil {
		return "", err
	}
	return p.poll(ctx, pollingURL)
}

// submit POSTs the generation job and returns the polling URL.
func (p *Provider) submit(ctx context.Context, req image.Request) (string, error) {
	payload := map[string]any{
		"prompt":        req.Prompt,
		"width":         1024,
		"height":        576,
		"output_format": "jpeg",
	}
	for i, ref := range req.ReferenceImages {
		if i >= maxReferenceImages {
			break
		}
		key := "input_image"
		if i > 0 {
			key = fmt.Sprintf("input_image_%d", i+1)
		}
		payload[key] = ref
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bfl: marshal payload: %w", err)
	}

	endpoint := p.baseURL + "/" + p.model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("bfl: create request: %w", err)
	}
	httpReq.Header.Set("x-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("bfl: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("bfl: submit status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("bfl: decode submit response: %w", err)
	}
	if parsed.PollingURL == "" {
		return "", errors.New("bfl: missing polling_url in submit response")
	}
	return parsed.PollingURL, nil
}

// poll repeatedly fetches the job result until it is Ready, errors out, or the
// poll budget is exhausted.
func (p *Provider) poll(ctx context.Context, pollingURL string) (string, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for i := 0; i < p.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		result, err := p.pollOnce(ctx, pollingURL)
		if err != nil {
			return "", err
		}

		switch result.Status {
		case "Ready":
			if result.Result.Sample == "" {
				return "", errors.New("bfl: ready result has no sample URL")
			}
			return result.Result.Sample, nil
		case "Error", "Failed":
			return "", fmt.Errorf("bfl: generation failed: %s", result.Error)
		}
		// Pending/Processing: keep polling.
	}

	return "", fmt.Errorf("bfl: result not ready after %d polls", p.maxPolls)
}

// pollOnce fetches the job status a single time.
func (p *Provider) pollOnce(ctx context.Context, pollingURL string) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bfl: create poll request: %w", err)
	}
	req.Header.Set("x-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bfl: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bfl: poll status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("bfl: decode poll response: %w", err)
	}
	return &parsed, nil
}

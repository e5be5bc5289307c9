// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// prerecorded audio API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/justraw/friction/pkg/provider/stt"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "fr"
	defaultTimeout  = 15 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "fr", "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the Deepgram API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// Provider implements stt.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	client   *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response mirrors the subset of the Deepgram prerecorded response we consume.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider. It POSTs the raw audio container to the
// Deepgram prerecorded endpoint and returns the top alternative of the first
// channel.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return nil, errors.New("deepgram: empty audio")
	}

	endpoint, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.Data))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	if audio.MIMEType != "" {
		req.Header.Set("Content-Type", audio.MIMEType)
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, errors.New("deepgram: no alternatives in response")
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	return &stt.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
	}, nil
}

// buildURL assembles the prerecorded endpoint URL with query parameters.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	if p.language != "" {
		q.Set("language", p.language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

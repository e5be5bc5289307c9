// Package ollama provides an embeddings provider backed by a local Ollama
// server, using its native /api/embed endpoint with models such as
// nomic-embed-text, mxbai-embed-large, and all-minilm.
//
// Example:
//
//	p, err := ollama.New("", "nomic-embed-text") // connects to http://localhost:11434
//	vec, err := p.Embed(ctx, "the learner keeps forgetting to say bonjour")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/justraw/friction/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Ensure Provider implements the embeddings.Provider interface at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension for models not in the
// built-in table.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a new Ollama Provider. baseURL defaults to DefaultBaseURL
// when empty; model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}

	return &Provider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dims,
		client:     client,
	}, nil
}

// embedRequest is the JSON request body for Ollama's /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON response body from Ollama's /api/embed endpoint.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embeddings: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama embeddings: decode response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: expected %d embeddings, got %d", len(texts), len(parsed.Embeddings))
	}
	return parsed.Embeddings, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// knownDimensions returns the vector length for recognised Ollama embedding
// models, or a fallback of 768 for unknown models.
func knownDimensions(model string) int {
	base := strings.ToLower(model)
	if i := strings.IndexByte(base, ':'); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	case "snowflake-arctic-embed":
		return 1024
	case "bge-m3":
		return 1024
	default:
		return 768
	}
}

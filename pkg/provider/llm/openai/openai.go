// Package openai provides an LLM provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/justraw/friction/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible gateways (vLLM, LiteLLM, Azure endpoints).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, oai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONResponse {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params, nil
}

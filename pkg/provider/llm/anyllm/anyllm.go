// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.NewOllama("llama3.1")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/justraw/friction/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the provider falls
// back to the relevant environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewAnthropic creates a Provider backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewGroq creates a Provider backed by Groq.
// Without options, it reads the GROQ_API_KEY environment variable.
func NewGroq(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("groq", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts a CompletionRequest into any-llm-go completion params.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	// CompletionParams has no response-format field, so JSONResponse cannot be
	// forwarded here; backends that ignore the prompt's JSON instructions
	// produce prose that the reply parser's raw fallback absorbs. The native
	// openai provider does forward it.

	return params
}

// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// Anthropic model via any-llm, or a local Ollama instance) and exposes a
// uniform completion interface so the session orchestrator never couples to a
// specific SDK.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. Providers without a dedicated system slot prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int

	// JSONResponse asks the backend to constrain output to a single JSON
	// object where the API supports it (OpenAI response_format). Providers
	// without native support may ignore this; callers must still parse
	// defensively.
	JSONResponse bool
}

// CompletionResponse is the full, non-streaming model reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating them
// during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"text":"Bonjour.","respectDelta":1}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/justraw/friction/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteResponses, if non-empty, is consumed front-to-back: each call to
	// Complete returns and removes the first element. Once drained, Complete
	// falls back to CompleteResponse.
	CompleteResponses []*llm.CompletionResponse

	// CompleteResponse is returned by Complete when CompleteResponses is empty.
	// May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/justraw/friction/pkg/provider/image"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req image.Request
}

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// URL is returned by Generate.
	URL string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Delay, if set, makes Generate block for that duration or until ctx
	// expires, whichever comes first. Used to exercise timeout paths.
	Delay time.Duration

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns URL, Err.
func (p *Provider) Generate(ctx context.Context, req image.Request) (string, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	delay := p.Delay
	url, err := p.URL, p.Err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return url, err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements image.Provider at compile time.
var _ image.Provider = (*Provider)(nil)

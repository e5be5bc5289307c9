// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/justraw/friction/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// VoiceID is the voice passed to Synthesize.
	VoiceID string
}

// Provider is a mock implementation of tts.Provider.
// Zero values for response fields cause Synthesize to return nil, nil.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize.
	Clip *tts.Clip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Delay, if set, makes Synthesize block for that duration or until ctx
	// expires, whichever comes first. Used to exercise timeout paths.
	Delay time.Duration

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Clip, Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) (*tts.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, VoiceID: voiceID})
	delay := p.Delay
	clip, err := p.Clip, p.Err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return clip, err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

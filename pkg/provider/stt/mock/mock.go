// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/justraw/friction/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is the utterance passed to Transcribe.
	Audio stt.Audio
}

// Provider is a mock implementation of stt.Provider.
// Zero values for response fields cause Transcribe to return nil, nil.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe.
	Transcript *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay, if set, makes Transcribe block for that duration or until ctx
	// expires, whichever comes first. Used to exercise timeout paths.
	Delay time.Duration

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, Err.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	delay := p.Delay
	transcript, err := p.Transcript, p.Err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return transcript, err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

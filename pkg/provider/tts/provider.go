// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui instance) behind a single batch operation: one complete character line
// in, one encoded audio clip out. Replies are short (a sentence or two), so the
// whole clip is synthesized before the response frame is sent and there is no
// streaming surface.
//
// Implementations must be safe for concurrent use. Multiple clips may be
// synthesized in parallel (one per connected session).
package tts

import "context"

// Clip is one fully synthesized audio clip.
type Clip struct {
	// Data is the encoded audio bytes.
	Data []byte

	// MIMEType describes the encoding, e.g. "audio/mpeg" or "audio/wav".
	MIMEType string
}

// Provider is the abstraction over any batch TTS backend.
type Provider interface {
	// Synthesize renders text in the given provider-specific voice and returns
	// the encoded clip. voiceID selects the character voice; an empty voiceID
	// uses the provider's default. Returns an error if the backend is
	// unreachable, rejects the request, or ctx expires first.
	Synthesize(ctx context.Context, text string, voiceID string) (*Clip, error)
}

// Package image defines the Provider interface for scene-image generation
// backends.
//
// An image provider turns a textual scene description (plus optional character
// reference images to keep the subject consistent between renders) into a URL
// pointing at a freshly generated image. Generation is slow relative to the
// rest of a turn, so callers run it concurrently with speech synthesis and
// treat a failure or timeout as "keep the previous image".
//
// Implementations must be safe for concurrent use.
package image

import "context"

// Request describes one image generation job.
type Request struct {
	// Prompt is the full scene description.
	Prompt string

	// ReferenceImages are URLs of character reference images the backend
	// should condition on, in priority order. Providers use at most the
	// number they support and ignore the rest.
	ReferenceImages []string
}

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// Generate submits the job and blocks until an image is available or ctx
	// expires. Returns the URL of the generated image. The URL may be
	// short-lived; callers should forward it to clients promptly.
	Generate(ctx context.Context, req Request) (string, error)
}

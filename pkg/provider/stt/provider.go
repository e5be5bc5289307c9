// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram or a local
// Whisper server) behind a single batch operation: the caller hands over a
// complete recorded utterance and receives the recognized text. Clients record
// one utterance per turn and submit it whole, so there is no streaming surface.
//
// Implementations must be safe for concurrent use. Multiple turns may be
// transcribed simultaneously (one per connected session).
package stt

import "context"

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognized text. May be empty when the audio contained no
	// discernible speech.
	Text string

	// Confidence is the provider's confidence in the recognition, in [0, 1].
	// Providers that do not report confidence leave it at 0.
	Confidence float64
}

// Audio is one complete recorded utterance as uploaded by a client.
type Audio struct {
	// Data is the raw container bytes (e.g., a WebM/Opus or WAV file).
	Data []byte

	// MIMEType describes the container format, e.g. "audio/webm" or
	// "audio/wav". Providers forward it so the backend can demux correctly.
	MIMEType string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits one complete utterance for recognition and returns
	// the transcript. Returns an error if the backend is unreachable, rejects
	// the audio, or ctx expires first.
	Transcribe(ctx context.Context, audio Audio) (*Transcript, error)
}

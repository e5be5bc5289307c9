// Package coqui provides a local Coqui XTTS v2-backed TTS provider. It
// connects to a running XTTS API server and implements the tts.Provider
// interface.
//
// Synthesis is performed via POST /tts_to_audio/ with a JSON body; the server
// responds with a complete WAV clip. voiceID maps to an XTTS studio speaker
// name.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8002", coqui.WithLanguage("fr"))
//	clip, err := p.Synthesize(ctx, "Bonjour, monsieur.", "Claribel Dervla")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justraw/friction/pkg/provider/tts"
)

const (
	ttsEndpoint     = "/tts_to_audio/"
	defaultLanguage = "fr"
	defaultTimeout  = 30 * time.Second

	// maxClipBytes caps how much audio we will buffer for a single clip.
	maxClipBytes = 16 << 20
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the XTTS server (e.g., "fr",
// "en", "de"). Defaults to "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithDefaultSpeaker sets the studio speaker used when Synthesize is called
// with an empty voiceID.
func WithDefaultSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.defaultSpeaker = speaker
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = d
	}
}

// Provider implements tts.Provider backed by a Coqui XTTS v2 API server.
type Provider struct {
	serverURL      string
	language       string
	defaultSpeaker string
	client         *http.Client
}

// New creates a new Coqui Provider pointed at serverURL (e.g.,
// "http://localhost:8002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: serverURL,
		language:  defaultLanguage,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest mirrors the XTTS /tts_to_audio/ request body.
type ttsRequest struct {
	Text      string `json:"text"`
	SpeakerID string `json:"speaker_wav"`
	Language  string `json:"language"`
}

// Synthesize implements tts.Provider. It POSTs the text to the XTTS server and
// returns the WAV clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) (*tts.Clip, error) {
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	if voiceID == "" {
		voiceID = p.defaultSpeaker
	}

	payload, err := json.Marshal(ttsRequest{
		Text:      text,
		SpeakerID: voiceID,
		Language:  p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("coqui: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("coqui: empty audio in response")
	}

	return &tts.Clip{Data: data, MIMEType: "audio/wav"}, nil
}

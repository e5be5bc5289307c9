// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
package elevenlabs

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
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultTimeout = 20 * time.Second

	// maxClipBytes caps how much audio we will buffer for a single clip.
	maxClipBytes = 8 << 20
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring an ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2",
// "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithDefaultVoice sets the voice used when Synthesize is called with an empty
// voiceID.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	model        string
	defaultVoice string
	baseURL      string
	client       *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		defaultVoice: defaultVoiceID,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesizeRequest mirrors the ElevenLabs text-to-speech request body.
type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Provider. It POSTs the text to the per-voice
// text-to-speech endpoint and returns the MP3 clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) (*tts.Clip, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", p.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("elevenlabs: empty audio in response")
	}

	return &tts.Clip{Data: data, MIMEType: "audio/mpeg"}, nil
}

// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference) and submits each uploaded utterance as a batch inference
// request encoded as multipart/form-data.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("fr"))
//	t, err := p.Transcribe(ctx, stt.Audio{Data: wav, MIMEType: "audio/wav"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/justraw/friction/pkg/provider/stt"
)

const (
	defaultLanguage = "fr"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "fr", "en", "de"). Defaults to "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL string
	model     string
	language  string
	client    *http.Client
}

// New creates a new whisper Provider pointed at serverURL (e.g.,
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
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

// inferenceResponse mirrors the whisper.cpp /inference response body.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe implements stt.Provider. It POSTs the audio to the whisper.cpp
// /inference endpoint as multipart/form-data and returns the transcribed text.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return nil, errors.New("whisper: empty audio")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", fileName(audio.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return nil, fmt.Errorf("whisper: write audio: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("whisper: server error: %s", parsed.Error)
	}

	return &stt.Transcript{Text: parsed.Text}, nil
}

// fileName picks a form file name whose extension matches the container so the
// server demuxes it correctly.
func fileName(mimeType string) string {
	switch mimeType {
	case "audio/webm":
		return "audio.webm"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	default:
		return "audio.wav"
	}
}

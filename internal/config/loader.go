package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper"},
	"tts":        {"elevenlabs", "coqui"},
	"image":      {"bfl"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// The character generator cannot run without an LLM; everything else can
	// degrade away.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice turns will be answered with the scenario fail line")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; responses will be text-only")
	}
	if cfg.Providers.Image.Name == "" {
		slog.Warn("providers.image is not configured; the scene image will never change")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Database.DSN == "" {
		slog.Warn("providers.embeddings is configured but database.dsn is empty; semantic memory will not be available")
	}
	if cfg.Database.DSN == "" {
		slog.Warn("database.dsn is empty; respect scores will not survive restarts")
	}

	if cfg.Session.Temperature < 0 || cfg.Session.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", cfg.Session.Temperature))
	}
	if cfg.Session.MaxReplyTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_reply_tokens %d must not be negative", cfg.Session.MaxReplyTokens))
	}
	if cfg.Session.ImageDeltaThreshold < 0 {
		errs = append(errs, fmt.Errorf("session.image_delta_threshold %d must not be negative", cfg.Session.ImageDeltaThreshold))
	}
	if cfg.Database.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions %d must not be negative", cfg.Database.EmbeddingDimensions))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

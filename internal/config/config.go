// Package config provides the configuration schema and loader for the
// friction role-play server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	Scenarios ScenariosConfig `yaml:"scenarios"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins accepted during the WebSocket upgrade.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares which implementation to use for each pipeline
// stage. LLM is the only mandatory stage; every other stage degrades to a
// no-op when left unconfigured.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Image      ProviderEntry `yaml:"image"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "openai", "deepgram", "bfl").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Timeout bounds each call to this provider within a turn. Zero uses the
	// stage default.
	Timeout time.Duration `yaml:"timeout"`

	// Options carries provider-specific settings (e.g., "language" for STT
	// and TTS backends).
	Options map[string]any `yaml:"options"`
}

// DatabaseConfig holds the Postgres connection settings for dossiers, turn
// logs, and the memory index.
type DatabaseConfig struct {
	// DSN is the Postgres connection string. Empty disables persistence;
	// dossiers then live only in process memory.
	DSN string `yaml:"dsn"`

	// EmbeddingDimensions is the pgvector column width for the memory index.
	// Must match the configured embeddings provider.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// SessionConfig holds the turn-orchestration knobs.
type SessionConfig struct {
	// Temperature is the sampling temperature for character replies.
	Temperature float64 `yaml:"temperature"`

	// MaxReplyTokens caps the length of a generated character reply.
	MaxReplyTokens int `yaml:"max_reply_tokens"`

	// HistoryLimit is how many prior turns are replayed to the generator.
	HistoryLimit int `yaml:"history_limit"`

	// MemoryRecallLimit is how many stored facts are recalled per turn.
	MemoryRecallLimit int `yaml:"memory_recall_limit"`

	// ImageDeltaThreshold is the minimum absolute respect change that
	// triggers a scene re-render.
	ImageDeltaThreshold int `yaml:"image_delta_threshold"`

	// TurnTimeout bounds a whole turn end to end.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// ScenariosConfig controls the scenario catalog.
type ScenariosConfig struct {
	// Dir is a directory of YAML scenario files merged over the built-in
	// catalog. Empty means built-ins only.
	Dir string `yaml:"dir"`

	// Default is the scenario ID used when a handshake omits one.
	Default string `yaml:"default"`
}

// Defaults fills zero-valued session knobs with their standard values.
func (c *Config) Defaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Session.Temperature == 0 {
		c.Session.Temperature = 0.8
	}
	if c.Session.MaxReplyTokens == 0 {
		c.Session.MaxReplyTokens = 400
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = 20
	}
	if c.Session.MemoryRecallLimit == 0 {
		c.Session.MemoryRecallLimit = 5
	}
	if c.Session.ImageDeltaThreshold == 0 {
		c.Session.ImageDeltaThreshold = 5
	}
	if c.Session.TurnTimeout == 0 {
		c.Session.TurnTimeout = 30 * time.Second
	}
	if c.Database.EmbeddingDimensions == 0 {
		c.Database.EmbeddingDimensions = 1536
	}
}

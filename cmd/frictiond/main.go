// Command frictiond is the main entry point for the friction role-play
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/justraw/friction/internal/app"
	"github.com/justraw/friction/internal/config"
	"github.com/justraw/friction/internal/observe"
	"github.com/justraw/friction/pkg/provider/embeddings"
	ollamaembed "github.com/justraw/friction/pkg/provider/embeddings/ollama"
	oaembed "github.com/justraw/friction/pkg/provider/embeddings/openai"
	"github.com/justraw/friction/pkg/provider/image"
	"github.com/justraw/friction/pkg/provider/image/bfl"
	"github.com/justraw/friction/pkg/provider/llm"
	"github.com/justraw/friction/pkg/provider/llm/anyllm"
	oaillm "github.com/justraw/friction/pkg/provider/llm/openai"
	"github.com/justraw/friction/pkg/provider/stt"
	"github.com/justraw/friction/pkg/provider/stt/deepgram"
	"github.com/justraw/friction/pkg/provider/stt/whisper"
	"github.com/justraw/friction/pkg/provider/tts"
	"github.com/justraw/friction/pkg/provider/tts/coqui"
	"github.com/justraw/friction/pkg/provider/tts/elevenlabs"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "frictiond: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "frictiond: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("frictiond starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "friction",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The native openai client supports structured JSON replies; everything
	// else goes through the any-llm multiplexer.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(entry.Timeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("bfl", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []bfl.Option
		if entry.Model != "" {
			opts = append(opts, bfl.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, bfl.WithBaseURL(entry.BaseURL))
		}
		return bfl.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Only the LLM slot is load-bearing; a failed optional provider is
// logged and skipped so the stage degrades instead of blocking startup.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			slog.Warn("stt provider unavailable, voice input degrades to text", "name", name, "err", err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			slog.Warn("tts provider unavailable, responses will have no audio", "name", name, "err", err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Image.Name; name != "" {
		p, err := reg.CreateImage(cfg.Providers.Image)
		if err != nil {
			slog.Warn("image provider unavailable, scenes will have no visuals", "name", name, "err", err)
		} else {
			ps.Image = p
			slog.Info("provider created", "kind", "image", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			slog.Warn("embeddings provider unavailable, memory recall disabled", "name", name, "err", err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         friction — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Image", cfg.Providers.Image.Name, cfg.Providers.Image.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Database.DSN != "" {
		fmt.Printf("║  Database        : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Database        : %-19s ║\n", "(none, no persist)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

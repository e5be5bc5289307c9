// Package app wires all friction subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMemoryIndex, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justraw/friction/internal/character"
	"github.com/justraw/friction/internal/config"
	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/health"
	"github.com/justraw/friction/internal/memory"
	"github.com/justraw/friction/internal/observe"
	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/internal/session"
	"github.com/justraw/friction/internal/ws"
	"github.com/justraw/friction/pkg/provider/embeddings"
	"github.com/justraw/friction/pkg/provider/image"
	"github.com/justraw/friction/pkg/provider/llm"
	"github.com/justraw/friction/pkg/provider/stt"
	"github.com/justraw/friction/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the corresponding pipeline stage degrades.
// Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Image      image.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes for the role-play server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	catalog    *scenario.Catalog
	pool       *pgxpool.Pool
	store      dossier.Store
	index      memory.Index
	summariser memory.Summariser
	metrics    *observe.Metrics
	orch       *session.Orchestrator
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a dossier store instead of connecting to Postgres.
func WithStore(s dossier.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMemoryIndex injects a memory index instead of connecting to Postgres.
func WithMemoryIndex(x memory.Index) Option {
	return func(a *App) { a.index = x }
}

// WithSummariser injects a summariser instead of building one from the LLM
// provider.
func WithSummariser(s memory.Summariser) Option {
	return func(a *App) { a.summariser = s }
}

// WithCatalog injects a scenario catalog instead of loading one from config.
func WithCatalog(c *scenario.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// A missing LLM provider is the one fatal initialisation error: the server
// refuses to start rather than accept sessions it can never bring to READY.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.LLM == nil {
		return nil, fmt.Errorf("app: no llm provider configured; a character generator is required")
	}

	if err := a.initScenarios(); err != nil {
		return nil, fmt.Errorf("app: init scenarios: %w", err)
	}
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.initOrchestrator()
	a.initHTTP()

	return a, nil
}

// initScenarios loads the catalog: built-ins plus any YAML files from the
// configured directory.
func (a *App) initScenarios() error {
	if a.catalog != nil {
		return nil
	}
	catalog, err := scenario.LoadCatalog(a.cfg.Scenarios.Dir, a.cfg.Scenarios.Default)
	if err != nil {
		return err
	}
	a.catalog = catalog
	slog.Info("scenario catalog loaded", "scenarios", len(catalog.List()), "default", catalog.Default().ID)
	return nil
}

// initStorage connects Postgres for dossiers, turn logs, and the memory
// index. No DSN means no persistence: scores live only for the session and
// memory recall is disabled.
func (a *App) initStorage(ctx context.Context) error {
	dsn := a.cfg.Database.DSN
	if dsn == "" {
		if a.store == nil {
			slog.Warn("no database configured; dossiers and memory will not persist")
		}
		return nil
	}

	if a.store == nil {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

		store := dossier.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate dossier schema: %w", err)
		}
		a.store = store
	}

	if a.index == nil && a.providers.Embeddings != nil {
		index, err := memory.NewPostgresIndex(ctx, dsn, a.cfg.Database.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("open memory index: %w", err)
		}
		a.index = index
		a.closers = append(a.closers, func() error {
			index.Close()
			return nil
		})
	}
	return nil
}

// initMetrics builds the metric instruments against the global meter
// provider (set up by main via observe.InitProvider).
func (a *App) initMetrics() error {
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initOrchestrator assembles the session orchestrator from stores and
// providers.
func (a *App) initOrchestrator() {
	if a.summariser == nil {
		a.summariser = memory.NewLLMSummariser(a.providers.LLM)
	}

	generator := character.NewGenerator(a.providers.LLM, character.Config{
		Temperature:  a.cfg.Session.Temperature,
		MaxTokens:    a.cfg.Session.MaxReplyTokens,
		HistoryLimit: a.cfg.Session.HistoryLimit,
	})

	a.orch = session.New(session.Deps{
		Catalog:    a.catalog,
		Store:      a.store,
		Memory:     a.index,
		Embedder:   a.providers.Embeddings,
		Generator:  generator,
		Summariser: a.summariser,
		STT:        a.providers.STT,
		TTS:        a.providers.TTS,
		Image:      a.providers.Image,
		Metrics:    a.metrics,
	}, session.Config{
		MemoryRecallLimit:   a.cfg.Session.MemoryRecallLimit,
		ImageDeltaThreshold: a.cfg.Session.ImageDeltaThreshold,
		TurnTimeout:         a.cfg.Session.TurnTimeout,
	})
}

// initHTTP builds the mux and server: the voice WebSocket endpoint, health
// probes, and the Prometheus scrape endpoint.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	handler := ws.NewHandler(a.orch, ws.NewRegistry(), ws.Config{
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	})
	mux.Handle("/api/voice", handler)

	health.New(a.healthChecks()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthChecks builds the readiness probes: database connectivity when
// configured, and the presence of the character generator.
func (a *App) healthChecks() []health.Check {
	checks := []health.Check{{
		Name: "llm",
		Probe: func(context.Context) error {
			if a.providers.LLM == nil {
				return fmt.Errorf("no llm provider configured")
			}
			return nil
		},
	}}
	if a.pool != nil {
		checks = append(checks, health.Check{
			Name:  "database",
			Probe: a.pool.Ping,
		})
	}
	return checks
}

// Handler returns the root HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled, then drains in-flight work. It
// returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the HTTP server, waits for detached summarization work, and
// tears down subsystems in order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		// Let close-time summarizations land before the stores go away.
		a.orch.Drain()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

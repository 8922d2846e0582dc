// Package app wires all Coda subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithLongTermStore, WithRouter, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codavoice/coda/internal/bus"
	"github.com/codavoice/coda/internal/config"
	"github.com/codavoice/coda/internal/health"
	"github.com/codavoice/coda/internal/observe"
	"github.com/codavoice/coda/internal/orchestrator"
	"github.com/codavoice/coda/internal/perf"
	"github.com/codavoice/coda/internal/tools"
	"github.com/codavoice/coda/pkg/memory/longterm"
	"github.com/codavoice/coda/pkg/memory/longterm/postgres"
	"github.com/codavoice/coda/pkg/memory/shortterm"
	"github.com/codavoice/coda/pkg/provider/embeddings"
	"github.com/codavoice/coda/pkg/provider/llm"
	"github.com/codavoice/coda/pkg/provider/stt"
	"github.com/codavoice/coda/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the Coda voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics      *observe.Metrics
	events       *bus.Bus
	eventsServer *bus.Server
	healthServer *health.Server
	tracker      *perf.Tracker
	sampler      *perf.Sampler
	shortTerm    *shortterm.Log
	longTerm     longterm.Store
	router       *tools.Router
	mcpBridge    *tools.MCPBridge
	orch         *orchestrator.Orchestrator

	otelShutdown func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLongTermStore injects a long-term store instead of creating one from
// config.
func WithLongTermStore(s longterm.Store) Option {
	return func(a *App) { a.longTerm = s }
}

// WithShortTermLog injects a conversation log instead of creating one from
// config.
func WithShortTermLog(l *shortterm.Log) Option {
	return func(a *App) { a.shortTerm = l }
}

// WithRouter injects a tool router instead of creating one with the built-in
// tool set.
func WithRouter(r *tools.Router) Option {
	return func(a *App) { a.router = r }
}

// WithLogger overrides the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry provider, event
// bus, memory stores, tool registry + MCP imports, and orchestrator assembly.
// The pipeline does not start moving until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: llm, stt, and tts providers are all required")
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	a.events = bus.New(
		bus.WithLogger(a.log.With("component", "bus")),
		bus.WithMetrics(a.metrics),
	)
	a.tracker = perf.New(a.events)

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	a.eventsServer = bus.NewServer(a.events,
		bus.WithServerLogger(a.log.With("component", "events")),
		bus.WithServerMetrics(a.metrics),
	)
	a.healthServer = health.NewServer(health.New(a.healthCheckers()...), a.log.With("component", "health"), a.metrics)

	interval := time.Duration(cfg.Telemetry.SampleIntervalSeconds) * time.Second
	a.sampler = perf.NewSampler(a.tracker, a.events, interval, a.log.With("component", "sysmetrics"))

	return a, nil
}

// initTelemetry sets up the OpenTelemetry provider and metric instruments.
func (a *App) initTelemetry(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.otelShutdown = shutdown
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initMemory sets up the short-term log and the configured long-term backend.
// No long-term config means the assistant runs with conversation memory only.
func (a *App) initMemory(ctx context.Context) error {
	if a.shortTerm == nil {
		a.shortTerm = shortterm.New(a.cfg.Memory.ShortTermCapacity)
	}

	if a.longTerm != nil {
		return nil // injected
	}

	switch {
	case a.cfg.Memory.PostgresDSN != "":
		if a.providers.Embeddings == nil {
			return fmt.Errorf("postgres memory requires an embeddings provider")
		}
		store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.providers.Embeddings)
		if err != nil {
			return err
		}
		a.longTerm = store
		a.log.Info("long-term memory backend", "kind", "postgres")

	case a.cfg.Memory.Dir != "" && a.providers.Embeddings != nil:
		store, err := longterm.NewFileStore(a.providers.Embeddings,
			longterm.WithDir(a.cfg.Memory.Dir),
			longterm.WithMaxMemories(a.cfg.Memory.MaxMemories),
			longterm.WithLogger(a.log.With("component", "memory")),
		)
		if err != nil {
			return err
		}
		a.longTerm = store
		a.log.Info("long-term memory backend", "kind", "file", "dir", a.cfg.Memory.Dir)

	default:
		a.log.Warn("no long-term memory configured, semantic recall disabled")
	}
	return nil
}

// initTools builds the tool router with built-ins and imports any configured
// MCP servers.
func (a *App) initTools(ctx context.Context) error {
	if a.router == nil {
		a.router = tools.NewRouter()
		err := tools.RegisterBuiltins(a.router, tools.BuiltinDeps{
			ShortTerm: a.shortTerm,
			LongTerm:  a.longTerm,
			ExportDir: a.cfg.Memory.ExportDir,
		})
		if err != nil {
			return err
		}
	}

	if len(a.cfg.Tools.MCPServers) == 0 {
		return nil
	}

	a.mcpBridge = tools.NewMCPBridge()
	for _, srv := range a.cfg.Tools.MCPServers {
		err := a.mcpBridge.Import(ctx, a.router, tools.MCPServerConfig{
			Name:      srv.Name,
			Transport: tools.MCPTransport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("import mcp server %q: %w", srv.Name, err)
		}
		a.log.Info("imported MCP server tools", "name", srv.Name)
	}
	return nil
}

// initOrchestrator assembles the pipeline core from everything built so far.
func (a *App) initOrchestrator() error {
	var encoder *longterm.Encoder
	var clusterer *longterm.Clusterer
	if a.longTerm != nil {
		encoder = longterm.NewEncoder(longterm.DefaultWindowSize, longterm.DefaultWindowOverlap)
		clusterer = longterm.NewClusterer(a.longTerm)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		LLM:       a.providers.LLM,
		STT:       a.providers.STT,
		TTS:       a.providers.TTS,
		Events:    a.events,
		Tracker:   a.tracker,
		ShortTerm: a.shortTerm,
		LongTerm:  a.longTerm,
		Encoder:   encoder,
		Clusterer: clusterer,
		Router:    a.router,
	},
		orchestrator.WithPersonality(a.cfg.Assistant.Personality),
		orchestrator.WithVoice(tts.VoiceProfile{
			ID:   a.cfg.Assistant.Voice.VoiceID,
			Name: a.cfg.Assistant.Voice.Name,
		}),
		orchestrator.WithMaxContextTokens(a.cfg.Assistant.MaxContextTokens),
		orchestrator.WithSTTMode(stt.Mode(a.cfg.Assistant.STTMode)),
		orchestrator.WithLanguage(a.cfg.Assistant.Language),
		orchestrator.WithExportDir(a.cfg.Memory.ExportDir),
		orchestrator.WithLogger(a.log.With("component", "orchestrator")),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// healthCheckers lists the readiness probes for the configured dependencies.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.longTerm != nil {
		checkers = append(checkers, health.Checker{
			Name: "memory",
			Check: func(ctx context.Context) error {
				_, err := a.longTerm.Stats(ctx)
				return err
			},
		})
	}
	checkers = append(checkers, health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if a.orch == nil {
				return fmt.Errorf("orchestrator not initialised")
			}
			return nil
		},
	})
	return checkers
}

// Orchestrator exposes the pipeline core, e.g. for feeding captured audio.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Bus exposes the event bus for additional subscribers.
func (a *App) Bus() *bus.Bus { return a.events }

// EventsAddr returns the bound WebSocket feed address once Run has started
// the server.
func (a *App) EventsAddr() string { return a.eventsServer.Addr() }

// Run starts the servers, the metrics sampler, and the voice pipeline, then
// blocks until ctx is cancelled. It returns ctx.Err() on a clean signal-driven
// exit and the first hard error otherwise.
func (a *App) Run(ctx context.Context) error {
	if err := a.eventsServer.Start(a.cfg.Server.EventsAddr); err != nil {
		return fmt.Errorf("app: start events server: %w", err)
	}
	if err := a.healthServer.Start(a.cfg.Server.HealthAddr); err != nil {
		return fmt.Errorf("app: start health server: %w", err)
	}

	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("app: start orchestrator: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sampler.Run(runCtx)
		return nil
	})

	a.log.Info("coda running",
		"events_addr", a.eventsServer.Addr(),
		"health_addr", a.healthServer.Addr(),
		"tools", len(a.router.Names()),
	)

	<-runCtx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown tears the application down in order: the pipeline first so the
// final conversation state is flushed, then the outward-facing servers, then
// the bus and telemetry. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if err := a.orch.Close(ctx); err != nil {
			a.log.Warn("orchestrator close error", "error", err)
		}
		if err := a.eventsServer.Stop(ctx); err != nil {
			a.log.Warn("events server stop error", "error", err)
		}
		if err := a.healthServer.Stop(ctx); err != nil {
			a.log.Warn("health server stop error", "error", err)
		}
		a.events.Stop()

		if a.mcpBridge != nil {
			if err := a.mcpBridge.Close(); err != nil {
				a.log.Warn("mcp bridge close error", "error", err)
			}
		}
		if a.longTerm != nil {
			if err := a.longTerm.Close(); err != nil {
				a.log.Warn("memory store close error", "error", err)
			}
		}
		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				a.log.Warn("telemetry shutdown error", "error", err)
				shutdownErr = err
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// Package runtime wires every component into one running orchestrator
// process: OrgState, ContactRegistry, Bus, ConversationStore,
// ConcurrencyController, Lifecycle, ToolExecutor, LlmHandler, Scheduler,
// and ShutdownManager, backed by the configured persistence and
// observability stacks.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/concurrency"
	"github.com/haasonsaas/nexus/internal/contacts"
	"github.com/haasonsaas/nexus/internal/conversation"
	"github.com/haasonsaas/nexus/internal/lifecycle"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/llmhandler"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/internal/persistence/jsonfile"
	"github.com/haasonsaas/nexus/internal/persistence/sqlite"
	"github.com/haasonsaas/nexus/internal/promptbuilder"
	"github.com/haasonsaas/nexus/internal/rtconfig"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/shutdown"
	"github.com/haasonsaas/nexus/internal/toolexec"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

// durableBackend is the union jsonfile.Store and sqlite.Store both
// satisfy: orgstate.Persister and conversation.Persister, plus the
// startup-restore helpers neither interface requires.
type durableBackend interface {
	orgstate.Persister
	conversation.Persister
	LoadConversation(agentID string) ([]models.Turn, models.TokenUsage, bool, error)
	ListConversationIDs() ([]string, error)
}

// Runtime holds every wired collaborator for the lifetime of one process.
type Runtime struct {
	Config   *rtconfig.Config
	Observe  *observability.Bundle
	Org      *orgstate.OrgState
	Contacts *contacts.Registry
	Bus      *bus.Bus
	Conv     *conversation.Store
	Conc     *concurrency.Controller
	Lifecycle *lifecycle.Lifecycle
	Tools    *toolexec.Executor
	Handler  *llmhandler.Handler
	Scheduler *scheduler.Scheduler
	Shutdown *shutdown.Manager

	backend    durableBackend
	closeFuncs []func() error
}

// New wires a Runtime from cfg. It does not start the scheduler — call
// Start for that, once the caller is ready to begin processing messages.
func New(cfg *rtconfig.Config) (*Runtime, error) {
	obs := observability.NewBundle(observability.BundleConfig{
		ServiceName:     cfg.Observability.ServiceName,
		LogLevel:        cfg.Observability.LogLevel,
		LogFormat:       cfg.Observability.LogFormat,
		MetricsEnabled:  cfg.Observability.MetricsEnabled,
		TracingEnabled:  cfg.Observability.TracingEnabled,
		TracingEndpoint: cfg.Observability.TracingEndpoint,
	})
	logger := obs.Logger.Slog()

	rt := &Runtime{Config: cfg, Observe: obs}

	backend, closeBackend, err := openBackend(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	rt.backend = backend
	if closeBackend != nil {
		rt.closeFuncs = append(rt.closeFuncs, closeBackend)
	}

	var orgPersister orgstate.Persister
	var convPersister conversation.Persister
	if backend != nil {
		orgPersister = backend
		convPersister = backend
	}

	rt.Org = orgstate.New(orgPersister, logger)
	rt.Contacts = contacts.New()
	rt.Bus = bus.New(logger)
	rt.Conv = conversation.New(convPersister, cfg.Conversation.DefaultMaxTokens, conversation.Thresholds{
		Warning:   cfg.Conversation.WarningThreshold,
		Critical:  cfg.Conversation.CriticalThreshold,
		HardLimit: cfg.Conversation.HardLimitThreshold,
	})
	rt.Conc = concurrency.New(cfg.Concurrency.MaxConcurrentLLM)

	ws := workspace.NewManager(cfg.Workspace.BaseDir)

	states := lifecycle.NewStateMachine()
	rt.Lifecycle = lifecycle.New(rt.Org, states, rt.Contacts, rt.Bus, rt.Conv, rt.Conc, ws, logger)
	rt.Bus.SetStatusOracle(func(agentID string) models.ComputeStatus { return states.Status(agentID) })

	artifactRepo, err := openArtifactRepository(cfg.Artifacts, logger)
	if err != nil {
		return nil, err
	}

	rt.Tools = toolexec.New(rt.Org, rt.Contacts, rt.Bus, rt.Conv, rt.Lifecycle, artifactRepo, ws, logger)

	llm, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	events := &eventSink{bundle: obs}
	rt.Handler = llmhandler.New(rt.Org, rt.Lifecycle, rt.Contacts, rt.Bus, rt.Conv, rt.Conc, rt.Tools, llm, promptbuilder.New(), artifactRepo, events, obs.Metrics, logger, llmhandler.Config{
		MaxToolRounds:  cfg.Scheduler.MaxToolRounds,
		SupportsVision: cfg.LLM.Providers[cfg.LLM.DefaultProvider].SupportsVision,
	})

	rt.Scheduler = scheduler.New(rt.Bus, rt.Org, rt.Lifecycle, rt.Handler, logger, scheduler.Config{
		MaxConcurrent:     cfg.Scheduler.MaxConcurrent,
		WaitTimeout:       time.Duration(cfg.Scheduler.WaitTimeoutMs) * time.Millisecond,
		SpinInterval:      time.Duration(cfg.Scheduler.SpinIntervalMs) * time.Millisecond,
		DrainPollInterval: time.Duration(cfg.Scheduler.DrainPollMs) * time.Millisecond,
	})

	rt.Shutdown = shutdown.New(rt.Scheduler, rt.Org, rt.Conv, time.Duration(cfg.Shutdown.TimeoutMs)*time.Millisecond, logger)

	return rt, nil
}

// Start restores persisted state (if any), then launches the scheduler's
// dispatch loop.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.backend != nil {
		if err := rt.restore(); err != nil {
			return fmt.Errorf("runtime: restore: %w", err)
		}
	} else {
		rt.Org.Bootstrap()
	}
	rt.Contacts.SeedRootUser()
	return rt.Scheduler.Start(ctx)
}

// restore repopulates OrgState and ConversationStore from the configured
// backend before the scheduler begins dispatching.
func (rt *Runtime) restore() error {
	loaded, err := rt.Org.LoadIfExists()
	if err != nil {
		return err
	}
	if !loaded {
		rt.Org.Bootstrap()
	}

	ids, err := rt.backend.ListConversationIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		turns, usage, ok, err := rt.backend.LoadConversation(id)
		if err != nil {
			return err
		}
		if ok {
			rt.Conv.Restore(id, turns, usage)
		}
	}
	return nil
}

// Drain requests shutdown and waits for it to complete, returning the
// summary for the caller to log/report.
func (rt *Runtime) Drain(ctx context.Context, signal string) shutdown.Summary {
	summary := rt.Shutdown.Drain(ctx, signal)
	for _, fn := range rt.closeFuncs {
		if err := fn(); err != nil {
			rt.Observe.Logger.Slog().Warn("runtime: close error during shutdown", "error", err)
		}
	}
	if err := rt.Observe.Shutdown(ctx); err != nil {
		rt.Observe.Logger.Slog().Warn("runtime: observability shutdown error", "error", err)
	}
	return summary
}

func openBackend(cfg rtconfig.PersistenceConfig) (durableBackend, func() error, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil, nil
	case "jsonfile":
		store, err := jsonfile.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: open jsonfile backend: %w", err)
		}
		return store, nil, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: open sqlite backend: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("runtime: unknown persistence backend %q", cfg.Backend)
	}
}

func openArtifactRepository(cfg rtconfig.ArtifactsConfig, logger *slog.Logger) (artifacts.Repository, error) {
	switch cfg.Backend {
	case "memory":
		return artifacts.NewMemoryRepository(artifacts.NewMemoryStore(), nil, logger), nil
	case "local":
		store, err := artifacts.NewLocalStore(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("runtime: open local artifact store: %w", err)
		}
		return artifacts.NewMemoryRepository(store, nil, logger), nil
	default:
		return nil, fmt.Errorf("runtime: unknown artifacts backend %q", cfg.Backend)
	}
}

func buildLLMClient(cfg rtconfig.LLMConfig) (llmclient.Client, error) {
	if cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("runtime: llm.default_provider is required")
	}
	p, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("runtime: no llm provider configured for %q", cfg.DefaultProvider)
	}
	switch p.Kind {
	case "anthropic":
		return llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			Model:        p.Model,
			MaxTokens:    p.MaxTokens,
			MaxRetries:   p.MaxRetries,
			RetryDelay:   p.RetryDelay(),
			SystemPrompt: p.SystemPrompt,
		})
	case "openai":
		return llmclient.NewOpenAIClient(llmclient.OpenAIConfig{
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			MaxTokens:  p.MaxTokens,
			MaxRetries: p.MaxRetries,
			RetryDelay: p.RetryDelay(),
		})
	default:
		return nil, fmt.Errorf("runtime: unknown llm provider kind %q", p.Kind)
	}
}

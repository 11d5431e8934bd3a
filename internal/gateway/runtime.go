package gateway

import (
	"context"
	"fmt"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/internal/agent/providers"
	"github.com/loamlabs/loam/internal/config"
	"github.com/loamlabs/loam/internal/observability"
	"github.com/loamlabs/loam/internal/tools/exec"
	"github.com/loamlabs/loam/internal/tools/files"
	"github.com/loamlabs/loam/internal/workflow"
	"github.com/loamlabs/loam/internal/workflow/store"
)

// Runtime owns the fully wired loam stack: observability, providers,
// tools, the workflow engine and manager, and the HTTP server.
type Runtime struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Manager *workflow.Manager
	Server  *Server

	store        store.Store
	shutdownOTel func(context.Context) error
}

// NewRuntime builds every component from the configuration.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:  "loam",
		Environment:  cfg.Tracing.Environment,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SampleRate,
	})

	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := newToolRegistry(cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := newProviderResolver(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := workflow.NewEngine(workflow.EngineDeps{
		Resolver: resolver,
		Registry: registry,
		Store:    st,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	})
	if err != nil {
		return nil, err
	}
	manager := workflow.NewManager(engine, st, logger)

	server, err := NewServer(ServerDeps{
		Config:  cfg,
		Manager: manager,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Manager:      manager,
		Server:       server,
		store:        st,
		shutdownOTel: shutdownTracer,
	}, nil
}

// Start begins serving HTTP.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Server.Start(ctx)
}

// Shutdown stops the HTTP server, cancels in-flight workflows, flushes
// traces, and closes the store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	err := r.Server.Shutdown(ctx)
	r.Manager.Shutdown(r.Config.Server.ShutdownTimeout)
	if r.shutdownOTel != nil {
		if terr := r.shutdownOTel(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	if cerr := r.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}

func newToolRegistry(cfg *config.Config) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry(nil)
	fileCfg := files.Config{
		Workspace:    cfg.Tools.Workspace,
		MaxReadBytes: cfg.Tools.MaxReadBytes,
	}
	tools := []agent.Tool{
		files.NewReadTool(fileCfg),
		files.NewListTool(fileCfg),
		files.NewWriteTool(fileCfg),
	}
	if cfg.Tools.EnableExec {
		tools = append(tools, exec.NewCommandTool(exec.Config{
			Workspace: cfg.Tools.Workspace,
			Timeout:   cfg.Tools.CommandTimeout,
		}))
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}
	return registry, nil
}

// newProviderResolver maps provider names from run configs to clients.
// Ollama host overrides route through a pool so one daemon per host is
// reused across runs.
func newProviderResolver(cfg *config.Config) (workflow.ProviderResolver, error) {
	var anthropicProvider agent.ChatProvider
	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Providers.Anthropic.APIKey,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			DefaultModel: cfg.Providers.Anthropic.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		anthropicProvider = p
	}

	var openaiProvider agent.ChatProvider
	if cfg.Providers.OpenAI.APIKey != "" {
		openaiProvider = providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.Providers.OpenAI.APIKey,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			DefaultModel: cfg.Providers.OpenAI.DefaultModel,
		})
	}

	ollamaPool := providers.NewOllamaPool(providers.OllamaConfig{
		BaseURL:      cfg.Providers.Ollama.BaseURL,
		DefaultModel: cfg.Providers.Ollama.DefaultModel,
	})

	defaultName := cfg.Providers.Default
	return func(name, host string) (agent.ChatProvider, error) {
		if name == "" {
			name = defaultName
		}
		switch name {
		case "anthropic":
			if anthropicProvider == nil {
				return nil, fmt.Errorf("anthropic provider is not configured (set providers.anthropic.api_key)")
			}
			return anthropicProvider, nil
		case "openai":
			if openaiProvider == nil {
				return nil, fmt.Errorf("openai provider is not configured (set providers.openai.api_key)")
			}
			return openaiProvider, nil
		case "ollama":
			return ollamaPool.For(host), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}, nil
}

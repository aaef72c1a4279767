package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/internal/approval"
	"github.com/lacehq/lace/internal/budget"
	"github.com/lacehq/lace/internal/compaction"
	"github.com/lacehq/lace/internal/config"
	"github.com/lacehq/lace/internal/delegation"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/provider/anthropic"
	"github.com/lacehq/lace/internal/provider/bedrock"
	"github.com/lacehq/lace/internal/provider/openai"
	"github.com/lacehq/lace/internal/queue"
	"github.com/lacehq/lace/internal/telemetry"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/internal/tool"
	"github.com/lacehq/lace/pkg/models"
)

// retryPolicyFrom translates the config's retry knobs into a
// provider.RetryPolicy, keeping the package default's Factor/Jitter shape.
func retryPolicyFrom(name string, cfg config.RetryConfig) provider.RetryPolicy {
	policy := provider.NewRetryPolicy(name)
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelayMs > 0 {
		policy.Backoff.InitialMs = float64(cfg.InitialDelayMs)
	}
	if cfg.MaxDelayMs > 0 {
		policy.Backoff.MaxMs = float64(cfg.MaxDelayMs)
	}
	return policy
}

// retryConfigurable is implemented by every provider adapter; it's
// declared here rather than in internal/provider to avoid coupling the
// contract package to a setter only the CLI's wiring needs.
type retryConfigurable interface {
	SetRetryPolicy(provider.RetryPolicy)
}

// buildProvider constructs the provider adapter named by cfg, reading its
// API credentials from the environment, the way every provider except
// bedrock (which uses the AWS SDK's own credential chain) expects them,
// and applies retry to it.
func buildProvider(ctx context.Context, cfg config.ProviderConfig, retry config.RetryConfig) (provider.Provider, error) {
	var prov provider.Provider
	switch strings.ToLower(cfg.Name) {
	case "", "anthropic":
		prov = anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model, cfg.BaseURL)
	case "openai":
		prov = openai.New(os.Getenv("OPENAI_API_KEY"), cfg.Model, cfg.BaseURL)
	case "bedrock":
		p, err := bedrock.New(ctx, bedrock.Config{DefaultModel: cfg.Model, Region: os.Getenv("AWS_REGION")})
		if err != nil {
			return nil, err
		}
		prov = p
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, or bedrock)", cfg.Name)
	}
	if rc, ok := prov.(retryConfigurable); ok {
		rc.SetRetryPolicy(retryPolicyFrom(prov.Name(), retry))
	}
	return prov, nil
}

// buildStore constructs the ThreadStore backend named by workspace's
// LACE_STORE env var, defaulting to an in-memory store for the common
// single-process interactive case. Set LACE_STORE to "sqlite:<path>" or
// "postgres:<dsn>" to persist across runs.
func buildStore() (thread.Store, error) {
	dsn := os.Getenv("LACE_STORE")
	switch {
	case dsn == "":
		return thread.NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return thread.NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres:"):
		return thread.NewPostgresStoreFromDSN(strings.TrimPrefix(dsn, "postgres:"), nil)
	default:
		return nil, fmt.Errorf("LACE_STORE: unrecognized scheme in %q (want sqlite:<path> or postgres:<dsn>)", dsn)
	}
}

// cliApprovalCallback prompts on stderr and reads a one-line decision from
// stdin, for tool calls no automatic policy step resolves.
func cliApprovalCallback(in *bufio.Reader) approval.InteractiveCallback {
	return func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		fmt.Fprintf(os.Stderr, "\napprove tool call %q with args %s? [y]es/[n]o/[a]lways this session: ", toolName, args)
		line, err := in.ReadString('\n')
		if err != nil {
			return tool.DecisionDeny, fmt.Errorf("reading approval decision: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return tool.DecisionAllowOnce, nil
		case "a", "always":
			return tool.DecisionAllowSession, nil
		default:
			return tool.DecisionDeny, nil
		}
	}
}

// deps bundles everything wired up for one interactive session.
type deps struct {
	store     thread.Store
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	shutdown  func(context.Context) error
	compactor *compaction.Compactor
	agentFor  func(threadID models.ThreadID) (*agent.Agent, error)
}

// buildDeps wires every component named in cfg into the shared state a
// session's agents are built from. Each call to agentFor builds a fresh
// Agent, with its own Executor, bound to threadID. Delegation's child
// agents are built by the delegation manager instead; they share the
// store, the approval chain and, unless a delegate call names another
// provider, the session's provider.
func buildDeps(ctx context.Context, cfg *config.Config, in *bufio.Reader) (*deps, error) {
	store, err := buildStore()
	if err != nil {
		return nil, fmt.Errorf("building thread store: %w", err)
	}

	logger := telemetry.NewLogger(telemetry.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := telemetry.NewMetrics(prometheusRegistryOrDefault())
	tracer, shutdown := telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.TraceEndpoint,
		SamplingRate:   cfg.Telemetry.TraceSampling,
	})

	prov, err := buildProvider(ctx, cfg.Provider, cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("building provider: %w", err)
	}

	systemPrompt, err := loadSystemPrompt(cfg.Workspace.Directory)
	if err != nil {
		return nil, err
	}

	approvalChain := approval.NewChain(approval.Policy{
		DisableAllTools:      cfg.Approval.DisableAllTools,
		DisableTools:         cfg.Approval.DisableTools,
		AutoApproveTools:     cfg.Approval.AutoApproveTools,
		AllowNonDestructive:  cfg.Approval.AllowNonDestructive,
		DisableAllGuardrails: cfg.Approval.DisableAllGuardrails,
	}, cliApprovalCallback(in))

	registry := tool.NewRegistry()
	resolver := func(providerName, model string) (provider.Provider, error) {
		if providerName == "" {
			return prov, nil
		}
		pc := cfg.Provider
		pc.Name, pc.Model = providerName, model
		return buildProvider(ctx, pc, cfg.Retry)
	}
	delegationManager := delegation.New(store, resolver, registry, approvalChain)
	registry.Register(delegation.NewTool(delegationManager))

	d := &deps{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		shutdown:  shutdown,
		compactor: compaction.New(store, prov),
	}
	d.agentFor = func(threadID models.ThreadID) (*agent.Agent, error) {
		executor := tool.NewExecutor(registry, approvalChain)
		return agent.New(agent.Config{
			ThreadID:     threadID,
			Store:        store,
			Provider:     prov,
			Executor:     executor,
			Tools:        toolDefs(registry),
			Budget:       budget.New(budget.Config{MaxTokens: cfg.Budget.MaxTokens, ReserveTokens: cfg.Budget.ReserveTokens, WarningThreshold: cfg.Budget.WarningThreshold}),
			Queue:        queue.New(cfg.Queue.MaxLength),
			Compactor:    d.compactor,
			SystemPrompt: systemPrompt,
			WorkingDir:   cfg.Workspace.Directory,
			Sink:         sessionSink(logger, metrics, cfg.Provider.Name),
		}), nil
	}
	return d, nil
}

// toolDefs projects a registry's tools into the provider-neutral ToolDef
// list a Request advertises to the model.
func toolDefs(registry *tool.Registry) []provider.ToolDef {
	tools := registry.GetAllTools()
	defs := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, provider.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// prometheusRegistryOrDefault uses the global default registry: one process
// runs one session, so there is no risk of the collision NewMetrics'
// doc comment warns test callers about.
func prometheusRegistryOrDefault() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

// sessionSink turns Agent events into structured log lines and metrics
// updates, the way the CLI observes a turn without printing every
// internal state transition to the terminal (that's renderEvent's job).
func sessionSink(logger *telemetry.Logger, metrics *telemetry.Metrics, providerName string) agent.Sink {
	return func(e agent.Event) {
		ctx := context.Background()
		switch e.Type {
		case agent.EventError:
			logger.Error(ctx, "turn error", "thread_id", string(e.ThreadID), "turn_id", e.TurnID, "error", e.Err)
			metrics.TurnsTotal.WithLabelValues("error").Inc()
		case agent.EventTurnComplete:
			metrics.TurnsTotal.WithLabelValues("completed").Inc()
		case agent.EventTurnAborted:
			metrics.TurnsTotal.WithLabelValues("aborted").Inc()
		case agent.EventRetryAttempt, agent.EventRetryExhausted:
			metrics.ProviderRetryAttempts.WithLabelValues(providerName).Inc()
		case agent.EventToolCallComplete:
			outcome := "ok"
			if e.Result != nil && e.Result.IsError {
				outcome = "error"
			}
			metrics.ToolExecutionsTotal.WithLabelValues(e.ToolName, outcome).Inc()
		}
		renderEvent(e)
	}
}

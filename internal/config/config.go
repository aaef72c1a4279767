// Package config loads and validates the YAML configuration that wires a
// Lace agent: which provider/model to use, token budget thresholds, retry
// policy, queue limits, and the tool-approval guardrails.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a Lace agent process.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Budget    BudgetConfig    `yaml:"budget"`
	Retry     RetryConfig     `yaml:"retry"`
	Queue     QueueConfig     `yaml:"queue"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	// Name is one of "anthropic", "openai", "bedrock".
	Name string `yaml:"name"`
	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`
	// Streaming is read from the file, but no component consults it: the
	// Anthropic, OpenAI and Bedrock adapters always report streaming support.
	Streaming bool `yaml:"streaming"`
	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// BudgetConfig configures TokenBudget accounting for a thread.
type BudgetConfig struct {
	// MaxTokens is the effective context window for the configured model.
	MaxTokens int `yaml:"max_tokens"`
	// ReserveTokens is held back from MaxTokens for the model's response.
	ReserveTokens int `yaml:"reserve_tokens"`
	// WarningThreshold is the fraction (0.0-1.0) of MaxTokens at which
	// IsNearLimit starts reporting true.
	WarningThreshold float64 `yaml:"warning_threshold"`
}

// RetryConfig configures the ProviderAdapter's retry policy.
type RetryConfig struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// QueueConfig bounds a single agent's MessageQueue.
type QueueConfig struct {
	MaxLength int `yaml:"max_length"`
}

// ApprovalConfig configures the ApprovalPolicy precedence chain evaluated by
// the ToolExecutor before any tool call runs.
type ApprovalConfig struct {
	// DisableAllTools rejects every tool call except safeInternal tools.
	DisableAllTools bool `yaml:"disable_all_tools"`
	// DisableTools names individual tools to reject regardless of other policy.
	DisableTools []string `yaml:"disable_tools"`
	// AutoApproveTools names tools that skip the interactive approval callback.
	AutoApproveTools []string `yaml:"auto_approve_tools"`
	// AllowNonDestructive auto-approves tools annotated read-only and not
	// open-world.
	AllowNonDestructive bool `yaml:"allow_non_destructive"`
	// DisableAllGuardrails auto-approves every tool call that
	// DisableAllTools and DisableTools have not already rejected. Dangerous;
	// intended for sandboxed or scripted environments only.
	DisableAllGuardrails bool `yaml:"disable_all_guardrails"`
}

// LoggingConfig configures the telemetry.Logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	MetricsAddr    string  `yaml:"metrics_addr"`
	TraceEndpoint  string  `yaml:"trace_endpoint"`
	TraceSampling  float64 `yaml:"trace_sampling"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
}

// WorkspaceConfig names the filesystem root tools resolve relative paths
// against.
type WorkspaceConfig struct {
	Directory string `yaml:"directory"`
}

// Load reads the YAML document at path, expands ${VAR} references against
// the process environment, applies env-var overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LACE_PROVIDER")); v != "" {
		cfg.Provider.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("LACE_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LACE_MAX_TOKENS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxTokens = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("LACE_WORKSPACE")); v != "" {
		cfg.Workspace.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("LACE_DISABLE_ALL_GUARDRAILS")); v != "" {
		cfg.Approval.DisableAllGuardrails = v == "1" || strings.EqualFold(v, "true")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}

	if cfg.Budget.MaxTokens == 0 {
		cfg.Budget.MaxTokens = 200_000
	}
	if cfg.Budget.ReserveTokens == 0 {
		cfg.Budget.ReserveTokens = 4_000
	}
	if cfg.Budget.WarningThreshold == 0 {
		cfg.Budget.WarningThreshold = 0.8
	}

	if cfg.Retry.InitialDelayMs == 0 {
		cfg.Retry.InitialDelayMs = 1_000
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 30_000
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 10
	}

	if cfg.Queue.MaxLength == 0 {
		cfg.Queue.MaxLength = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "lace"
	}
	if cfg.Telemetry.TraceSampling == 0 {
		cfg.Telemetry.TraceSampling = 1.0
	}

	if cfg.Workspace.Directory == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace.Directory = wd
		}
	}
}

func validate(cfg *Config) error {
	var issues []string

	if !validProvider(cfg.Provider.Name) {
		issues = append(issues, `provider.name must be one of "anthropic", "openai", "bedrock"`)
	}
	if cfg.Budget.MaxTokens <= 0 {
		issues = append(issues, "budget.max_tokens must be > 0")
	}
	if cfg.Budget.ReserveTokens < 0 || cfg.Budget.ReserveTokens >= cfg.Budget.MaxTokens {
		issues = append(issues, "budget.reserve_tokens must be >= 0 and less than budget.max_tokens")
	}
	if cfg.Budget.WarningThreshold <= 0 || cfg.Budget.WarningThreshold > 1 {
		issues = append(issues, "budget.warning_threshold must be in (0, 1]")
	}
	if cfg.Retry.MaxAttempts < 1 {
		issues = append(issues, "retry.max_attempts must be >= 1")
	}
	if cfg.Retry.InitialDelayMs < 0 || cfg.Retry.MaxDelayMs < cfg.Retry.InitialDelayMs {
		issues = append(issues, "retry.max_delay_ms must be >= retry.initial_delay_ms >= 0")
	}
	if cfg.Queue.MaxLength < 1 {
		issues = append(issues, "queue.max_length must be >= 1")
	}
	if cfg.Approval.DisableAllTools && len(cfg.Approval.AutoApproveTools) > 0 {
		issues = append(issues, "approval.auto_approve_tools has no effect when approval.disable_all_tools is set")
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return nil
}

func validProvider(name string) bool {
	switch name {
	case "anthropic", "openai", "bedrock":
		return true
	default:
		return false
	}
}

// RetryInitialDelay returns RetryConfig.InitialDelayMs as a time.Duration.
func (r RetryConfig) RetryInitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// RetryMaxDelay returns RetryConfig.MaxDelayMs as a time.Duration.
func (r RetryConfig) RetryMaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

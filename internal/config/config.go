// Package config loads and validates the loam configuration file. Files
// are YAML with environment variable expansion and optional $include
// directives, and can be watched for changes at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

// Config is the root configuration for the loam daemon and CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Tools     ToolsConfig     `yaml:"tools"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// Presets are named run-configuration bundles selectable per
	// request; request-level overrides still win over the preset.
	Presets map[string]Preset `yaml:"presets"`
}

// Preset is a named bundle of workflow settings. Nil or zero fields
// leave the configured default untouched.
type Preset struct {
	Provider         string        `yaml:"provider"`
	Model            string        `yaml:"model"`
	Host             string        `yaml:"host"`
	EnabledTools     []string      `yaml:"enabled_tools"`
	MaxSteps         int           `yaml:"max_steps"`
	MaxRePlans       *int          `yaml:"max_replans"`
	Timeout          time.Duration `yaml:"timeout"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	EnablePlanning   *bool         `yaml:"enable_planning"`
	EnableReflection *bool         `yaml:"enable_reflection"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ProvidersConfig struct {
	// Default names the provider used when a request does not pick one.
	Default string `yaml:"default"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// WorkflowConfig holds the per-run defaults applied when a request
// leaves a knob unset.
type WorkflowConfig struct {
	MaxSteps int `yaml:"max_steps"`

	// MaxRePlans is a pointer so an explicit zero is not mistaken for
	// unset.
	MaxRePlans *int `yaml:"max_replans"`

	Timeout          time.Duration `yaml:"timeout"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	EnablePlanning   bool          `yaml:"enable_planning"`
	EnableReflection bool          `yaml:"enable_reflection"`
}

type ToolsConfig struct {
	// Workspace is the directory filesystem tools are confined to.
	Workspace    string   `yaml:"workspace"`
	Enabled      []string `yaml:"enabled"`
	MaxReadBytes int      `yaml:"max_read_bytes"`

	// EnableExec registers the run_command shell tool. Off by default.
	EnableExec     bool          `yaml:"enable_exec"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. Ignored for the memory driver.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Load reads the config file at path, resolves includes, expands
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Providers.Anthropic.DefaultModel == "" {
		cfg.Providers.Anthropic.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Providers.OpenAI.DefaultModel == "" {
		cfg.Providers.OpenAI.DefaultModel = "gpt-4o"
	}
	if cfg.Providers.Ollama.BaseURL == "" {
		cfg.Providers.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Providers.Ollama.DefaultModel == "" {
		cfg.Providers.Ollama.DefaultModel = "llama3.1"
	}
	if cfg.Workflow.MaxSteps == 0 {
		cfg.Workflow.MaxSteps = 8
	}
	if cfg.Workflow.MaxRePlans == nil {
		replans := 2
		cfg.Workflow.MaxRePlans = &replans
	}
	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 10 * time.Minute
	}
	if cfg.Workflow.StepTimeout == 0 {
		cfg.Workflow.StepTimeout = 2 * time.Minute
	}
	if cfg.Tools.Workspace == "" {
		cfg.Tools.Workspace = "."
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "loam.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = "development"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver %q is not supported (memory, sqlite)", c.Store.Driver)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported (json, text)", c.Logging.Format)
	}
	switch c.Providers.Default {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("providers.default %q is not supported (anthropic, openai, ollama)", c.Providers.Default)
	}
	if c.Workflow.MaxSteps < 0 {
		return fmt.Errorf("workflow.max_steps must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate %v out of range [0,1]", c.Tracing.SampleRate)
	}
	return nil
}

// DefaultModel returns the configured model for the default provider.
func (c *Config) DefaultModel() string {
	switch c.Providers.Default {
	case "openai":
		return c.Providers.OpenAI.DefaultModel
	case "ollama":
		return c.Providers.Ollama.DefaultModel
	default:
		return c.Providers.Anthropic.DefaultModel
	}
}

// ApplyPreset layers the named preset onto a run configuration.
func (c *Config) ApplyPreset(cfg models.WorkflowConfig, name string) (models.WorkflowConfig, error) {
	if name == "" {
		return cfg, nil
	}
	preset, ok := c.Presets[name]
	if !ok {
		return cfg, fmt.Errorf("unknown preset %q", name)
	}
	if preset.Provider != "" {
		cfg.Provider = preset.Provider
	}
	if preset.Model != "" {
		cfg.Model = preset.Model
	}
	if preset.Host != "" {
		cfg.Host = preset.Host
	}
	if len(preset.EnabledTools) > 0 {
		cfg.EnabledTools = append([]string(nil), preset.EnabledTools...)
	}
	if preset.MaxSteps > 0 {
		cfg.MaxSteps = preset.MaxSteps
	}
	if preset.MaxRePlans != nil {
		replans := *preset.MaxRePlans
		cfg.MaxRePlans = &replans
	}
	if preset.Timeout > 0 {
		cfg.TimeoutMs = preset.Timeout.Milliseconds()
	}
	if preset.StepTimeout > 0 {
		cfg.StepTimeoutMs = preset.StepTimeout.Milliseconds()
	}
	if preset.EnablePlanning != nil {
		cfg.EnablePlanning = *preset.EnablePlanning
	}
	if preset.EnableReflection != nil {
		cfg.EnableReflection = *preset.EnableReflection
	}
	return cfg, nil
}

// RunConfig translates the configured defaults into a per-run workflow
// configuration, ready for request-level overrides.
func (c *Config) RunConfig() models.WorkflowConfig {
	var replans *int
	if c.Workflow.MaxRePlans != nil {
		v := *c.Workflow.MaxRePlans
		replans = &v
	}
	return models.WorkflowConfig{
		Provider:         c.Providers.Default,
		Model:            c.DefaultModel(),
		EnabledTools:     append([]string(nil), c.Tools.Enabled...),
		MaxSteps:         c.Workflow.MaxSteps,
		MaxRePlans:       replans,
		TimeoutMs:        c.Workflow.Timeout.Milliseconds(),
		StepTimeoutMs:    c.Workflow.StepTimeout.Milliseconds(),
		EnablePlanning:   c.Workflow.EnablePlanning,
		EnableReflection: c.Workflow.EnableReflection,
	}
}

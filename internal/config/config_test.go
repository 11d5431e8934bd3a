package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "loam.yaml", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.Workflow.MaxSteps != 8 || cfg.Workflow.MaxRePlans == nil || *cfg.Workflow.MaxRePlans != 2 {
		t.Errorf("workflow defaults = %+v", cfg.Workflow)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q", cfg.Store.Driver)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("providers.default = %q", cfg.Providers.Default)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("LOAM_TEST_KEY", "sk-test-123")
	path := writeConfig(t, t.TempDir(), "loam.yaml", `
providers:
  anthropic:
    api_key: ${LOAM_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoad_Includes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
server:
  port: 9000
logging:
  level: debug
`)
	path := writeConfig(t, dir, "loam.yaml", `
$include: base.yaml
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("included port not applied: %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("including file should win: level = %q", cfg.Logging.Level)
	}
}

func TestLoad_IncludeWithEnvironmentValues(t *testing.T) {
	t.Setenv("LOAM_TEST_KEY", "sk-test-456")
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
server:
  port: 9100
`)
	path := writeConfig(t, dir, "loam.yaml", `
$include: base.yaml
providers:
  anthropic:
    api_key: ${LOAM_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("included port not applied: %d", cfg.Server.Port)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-456" {
		t.Errorf("api_key = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoad_IncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "loam.yaml", "serverr:\n  port: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an unknown-field error")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad store driver", "store:\n  driver: postgres\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad provider", "providers:\n  default: cohere\n"},
		{"bad sample rate", "tracing:\n  sample_rate: 2.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "loam.yaml", tc.body)
			if _, err := Load(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestRunConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "loam.yaml", `
workflow:
  max_steps: 4
  timeout: 30s
  enable_planning: true
tools:
  enabled: [read_file, list_files]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rc := cfg.RunConfig()
	if rc.MaxSteps != 4 {
		t.Errorf("MaxSteps = %d", rc.MaxSteps)
	}
	if rc.TimeoutMs != 30000 {
		t.Errorf("TimeoutMs = %d", rc.TimeoutMs)
	}
	if !rc.EnablePlanning {
		t.Error("EnablePlanning not carried over")
	}
	if len(rc.EnabledTools) != 2 || rc.EnabledTools[0] != "read_file" {
		t.Errorf("EnabledTools = %v", rc.EnabledTools)
	}
	if rc.Model == "" || rc.Provider != "anthropic" {
		t.Errorf("provider defaults = %q %q", rc.Provider, rc.Model)
	}
}

func TestApplyPreset(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "loam.yaml", `
presets:
  local-fast:
    provider: ollama
    model: llama3.1
    max_steps: 3
    enable_planning: true
    enabled_tools: [read_file]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rc, err := cfg.ApplyPreset(cfg.RunConfig(), "local-fast")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if rc.Provider != "ollama" || rc.Model != "llama3.1" {
		t.Errorf("provider/model = %q %q", rc.Provider, rc.Model)
	}
	if rc.MaxSteps != 3 || !rc.EnablePlanning {
		t.Errorf("budgets = %+v", rc)
	}
	if len(rc.EnabledTools) != 1 || rc.EnabledTools[0] != "read_file" {
		t.Errorf("EnabledTools = %v", rc.EnabledTools)
	}
	// Fields the preset does not touch keep their defaults.
	if rc.MaxRePlans == nil || *rc.MaxRePlans != 2 {
		t.Errorf("MaxRePlans = %v", rc.MaxRePlans)
	}

	if _, err := cfg.ApplyPreset(cfg.RunConfig(), "nope"); err == nil {
		t.Error("unknown preset should fail")
	}
	same, err := cfg.ApplyPreset(cfg.RunConfig(), "")
	if err != nil || same.Provider != cfg.RunConfig().Provider {
		t.Errorf("empty preset should be a pass-through: %v", err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "loam.yaml", "logging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(cfg *Config) {
		reloaded <- cfg
	})
	w.debounce = 20 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	writeConfig(t, dir, "loam.yaml", "logging:\n  level: debug\n")

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcher_KeepsPreviousConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "loam.yaml", "logging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(cfg *Config) {
		reloaded <- cfg
	})
	w.debounce = 20 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	writeConfig(t, dir, "loam.yaml", "store:\n  driver: postgres\n")

	select {
	case <-reloaded:
		t.Fatal("invalid config should not be delivered")
	case <-time.After(500 * time.Millisecond):
	}
}

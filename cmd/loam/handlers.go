package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loamlabs/loam/internal/config"
	"github.com/loamlabs/loam/internal/gateway"
	"github.com/loamlabs/loam/pkg/models"
)

// runServe implements the serve command: load config, wire the runtime,
// serve until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	slog.Info("starting loam daemon",
		"version", version,
		"config", configPath,
		"addr", cfg.Server.Addr(),
		"provider", cfg.Providers.Default,
		"store", cfg.Store.Driver,
	)

	runtime, err := gateway.NewRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runtime.Start(ctx); err != nil {
		return err
	}

	watcher := config.NewWatcher(configPath, slog.Default(), func(_ *config.Config) {
		// Full provider or store changes need a restart; log levels and
		// workflow defaults apply to new runs via the next reload cycle.
		slog.Info("configuration change detected; restart to apply structural changes")
	})
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("loam daemon stopped")
	return nil
}

// loadConfig falls back to built-in defaults when the default config
// file does not exist; an explicit path must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

type chatOptions struct {
	serverURL string
	message   string
	preset    string
	provider  string
	model     string
	host      string
	plan      bool
	reflect   bool
	maxSteps  int
	tools     []string
	events    bool
}

// runChat streams one workflow through the daemon, rendering progress
// as text or raw NDJSON.
func runChat(ctx context.Context, out io.Writer, opts *chatOptions) error {
	client := newAPIClient(opts.serverURL)

	req := gateway.ChatRequest{
		Message:      opts.message,
		PresetID:     opts.preset,
		Provider:     opts.provider,
		Model:        opts.model,
		Host:         opts.host,
		EnabledTools: opts.tools,
		MaxSteps:     opts.maxSteps,
	}
	if opts.plan {
		req.EnablePlanning = &opts.plan
	}
	if opts.reflect {
		req.EnableReflection = &opts.reflect
	}

	var failure error
	err := client.Chat(ctx, req, func(event models.WorkflowEvent) error {
		if opts.events {
			line, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
			return nil
		}
		renderEvent(out, event, &failure)
		return nil
	})
	if err != nil {
		return err
	}
	return failure
}

// renderEvent prints a human-readable line per relevant event. Message
// deltas are written without newlines so streamed text stays contiguous.
func renderEvent(out io.Writer, event models.WorkflowEvent, failure *error) {
	switch event.Type {
	case models.EventPlan:
		if event.Plan == nil {
			return
		}
		fmt.Fprintf(out, "plan (%d steps):\n", len(event.Plan.Steps))
		for i, step := range event.Plan.Steps {
			fmt.Fprintf(out, "  %d. %s\n", i+1, step.Description)
		}
	case models.EventStepStart:
		if event.Step != nil {
			fmt.Fprintf(out, "\n[%s] %s\n", event.Step.PlanStepID, event.Step.Description)
		}
	case models.EventToolCall:
		if event.ToolCall != nil {
			fmt.Fprintf(out, "  -> %s\n", event.ToolCall.Name)
		}
	case models.EventMessage:
		if event.Message != nil && !event.Message.Done {
			fmt.Fprint(out, event.Message.Content)
		}
	case models.EventWorkflowEnd:
		if event.Status == models.WorkflowTimeout {
			*failure = fmt.Errorf("workflow timed out")
			return
		}
		if event.State != nil {
			fmt.Fprintf(out, "\n\n%s\n", event.State.FinalAnswer)
		}
	case models.EventError:
		*failure = fmt.Errorf("workflow failed: %s", event.Error)
	case models.EventCancelled:
		*failure = fmt.Errorf("workflow cancelled")
	}
}

func runWorkflowsList(ctx context.Context, out io.Writer, serverURL string) error {
	summaries, err := newAPIClient(serverURL).ListWorkflows(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tMESSAGE")
	for _, s := range summaries {
		updated := time.UnixMilli(s.UpdatedAt).Format(time.RFC3339)
		message := s.UserMessage
		if len(message) > 60 {
			message = message[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Status, updated, message)
	}
	return w.Flush()
}

func runWorkflowsShow(ctx context.Context, out io.Writer, serverURL, id string) error {
	state, err := newAPIClient(serverURL).GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(payload))
	return nil
}

func runWorkflowsCancel(ctx context.Context, out io.Writer, serverURL, id string) error {
	cancelled, err := newAPIClient(serverURL).CancelWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if cancelled {
		fmt.Fprintf(out, "workflow %s cancelled\n", id)
	} else {
		fmt.Fprintf(out, "workflow %s is not running\n", id)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "loam.yaml"

// buildServeCmd creates the "serve" command that starts the daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the loam daemon",
		Long: `Start the loam HTTP daemon.

The daemon loads the configuration, wires providers, tools, and the
workflow engine, and serves the chat and workflow APIs plus /metrics
and /healthz. The config file is watched and reloaded on change.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  loam serve

  # Start with custom config
  loam serve --config /etc/loam/production.yaml

  # Start with debug logging
  loam serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildChatCmd creates the "chat" command that runs one workflow through
// a running daemon and streams its progress.
func buildChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run an agent workflow and stream its progress",
		Args:  cobra.ExactArgs(1),
		Example: `  # Ask a question
  loam chat "summarize notes.md"

  # Enable planning and reflection with a step budget
  loam chat --plan --reflect --max-steps 5 "refactor the config loader"

  # Route to a local model
  loam chat --provider ollama --model llama3.1 "list the files here"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = args[0]
			return runChat(cmd.Context(), cmd.OutOrStdout(), &opts)
		},
	}

	cmd.Flags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:8080", "Daemon base URL")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Named preset from the server config")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Provider override (anthropic, openai, ollama)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override")
	cmd.Flags().StringVar(&opts.host, "host", "", "Ollama host override")
	cmd.Flags().BoolVar(&opts.plan, "plan", false, "Plan the task into steps before executing")
	cmd.Flags().BoolVar(&opts.reflect, "reflect", false, "Reflect after each step")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "Maximum plan steps (0 = server default)")
	cmd.Flags().StringSliceVar(&opts.tools, "tools", nil, "Enabled tools (default: all registered)")
	cmd.Flags().BoolVar(&opts.events, "events", false, "Print raw NDJSON events instead of text")
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loam %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// buildWorkflowsCmd creates the "workflows" command group.
func buildWorkflowsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and cancel workflow runs",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "Daemon base URL")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsList(cmd.Context(), cmd.OutOrStdout(), serverURL)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show the full state of a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsShow(cmd.Context(), cmd.OutOrStdout(), serverURL, args[0])
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsCancel(cmd.Context(), cmd.OutOrStdout(), serverURL, args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, cancelCmd)
	return cmd
}

// Command loam is the CLI for the loam agent daemon: serve runs the
// HTTP gateway, chat talks to a running daemon, workflows inspects and
// cancels runs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, injected via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loam",
		Short: "loam - local agent orchestration daemon",
		Long: `loam runs multi-step agent workflows against LLM providers with
planning, reflection, and tool execution, streaming progress as NDJSON.

Supported providers: Anthropic (Claude), OpenAI (GPT), Ollama (local)
Built-in tools: read_file, list_files, write_file`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildWorkflowsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

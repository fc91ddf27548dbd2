// Package main provides the CLI entry point for the nexushub LLM gateway.
//
// nexushub accepts canonical messages from authenticated tenants, runs them
// through planning, tool execution and reflection, and returns the answer
// either synchronously or through a Redis-backed queue.
//
// # Basic Usage
//
// Start the HTTP gateway:
//
//	nexushub serve --config nexushub.yaml
//
// Run queue workers (requires server.async and redis):
//
//	nexushub worker --config nexushub.yaml
//
// Check a configuration file:
//
//	nexushub config validate --config nexushub.yaml
//
// # Environment Variables
//
//   - NEXUSHUB_CONFIG: path to the configuration file (default: nexushub.yaml)
//
// Any ${VAR} in the configuration file is expanded from the environment,
// after a .env file next to the working directory has been loaded.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "nexushub.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd is separate from main for tests.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexushub",
		Short: "nexushub - multi-tenant LLM gateway",
		Long: `nexushub routes tenant messages to OpenAI, Gemini or Anthropic with
planning, tool execution (file search, internal RAG, MCP, custom HTTP)
and post-task reflection.`,
		Version:      versionString(),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkerCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func resolveConfigPath(path string) string {
	if path != "" && path != defaultConfigPath {
		return path
	}
	if env := os.Getenv("NEXUSHUB_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

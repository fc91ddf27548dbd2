package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the HTTP gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the HTTP gateway.

The server loads configuration, connects to Postgres (and Redis when
configured), wires the orchestrator and serves:

  POST /v1/messages/inbound        process or enqueue a message
  GET  /v1/messages/{id}/result    fetch a queued result (async mode)
  GET  /healthz, /readyz, /metrics

With server.async enabled, messages are enqueued and processed by
"nexushub worker". Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  nexushub serve

  # Start with a custom config and debug logging
  nexushub serve --config /etc/nexushub/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildWorkerCmd creates the "worker" command that drains the message queue.
func buildWorkerCmd() *cobra.Command {
	var (
		configPath  string
		debug       bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued inbound messages",
		Long: `Process inbound messages enqueued by "nexushub serve" in async mode.

Each job runs through the same orchestrator as synchronous requests and its
result is stored in Redis for queue.result_ttl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), resolveConfigPath(configPath), debug, concurrency)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Override queue.concurrency")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("nexushub " + versionString())
		},
	}
}

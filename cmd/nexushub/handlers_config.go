package main

import (
	"fmt"
	"io"

	"github.com/haasonsaas/nexushub/internal/config"
)

func runConfigValidate(out io.Writer, path string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	mode := "sync"
	if cfg.Server.Async {
		mode = "async"
	}
	tenants := "postgres"
	if cfg.Tenants.File != "" {
		tenants = cfg.Tenants.File
	}
	fmt.Fprintf(out, "%s is valid (version %d)\n", path, cfg.Version)
	fmt.Fprintf(out, "  listen:    %s:%d (%s)\n", cfg.Server.Host, cfg.Server.HTTPPort, mode)
	fmt.Fprintf(out, "  tenants:   %s\n", tenants)
	fmt.Fprintf(out, "  providers: %v\n", configuredProviders(cfg))
	return nil
}

func runConfigSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func configuredProviders(cfg *config.Config) []string {
	var names []string
	if cfg.LLM.OpenAI.Configured() {
		names = append(names, "openai")
	}
	if cfg.LLM.Gemini.Configured() {
		names = append(names, "gemini")
	}
	if cfg.LLM.Anthropic.Configured() {
		names = append(names, "anthropic")
	}
	return names
}

// Package main provides the CLI entry point for the CAD drawing agent.
//
// cadagent runs a bounded tool-using agent loop against DXF drawings:
// it resolves a skill's declared tool set (or falls back to the fixed
// database_operation/search pair), drives the LLM through
// internal/agent.Loop, and persists conversation history through
// internal/sessions.
//
// # Basic Usage
//
//	cadagent serve --config cadagent.yaml
//	cadagent skills sync
//	cadagent doctor
//
// # Environment Variables
//
//   - CADAGENT_CONFIG: path to the configuration file (default cadagent.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
//   - ONLINE_MEMORY_BASE_URL, ONLINE_MEMORY_PROJECT_ID, ONLINE_MEMORY_API_KEY
//   - VISION_MODEL_API_KEY, VISION_MODEL_BASE_URL
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cadagent",
		Short: "cadagent - a tool-using agent for CAD drawing analysis",
		Long: `cadagent drives an LLM through a bounded tool loop over DXF drawings:
computing renderable bounds, extracting entities in a region, rendering a
region preview, and querying stored facts -- guided by filesystem-defined
skills under the configured skills directory.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSkillsCmd(),
		buildDoctorCmd(),
		buildServiceCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("CADAGENT_CONFIG")); path != "" {
		return path
	}
	return "cadagent.yaml"
}

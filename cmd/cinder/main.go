// Package main is the cinder CLI: an agentic coding assistant that
// streams LLM output, executes tool calls in sandboxed waves, and routes
// requests to specialized agents.
//
// Run without arguments for the interactive REPL, or single-shot:
//
//	cinder run "add a --verbose flag to the sync command"
//
// Configuration is read from cinder.yaml (override with --config or
// CINDER_CONFIG). LLM_API_KEY / LLM_MODEL override the file.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cinder-ai/cinder/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Missing .env is fine; explicit config still wins.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		audit      bool
		noRouter   bool
	)

	root := &cobra.Command{
		Use:           "cinder",
		Short:         "Agentic coding assistant",
		Long:          "cinder streams an LLM, executes its tool calls inside a sandbox, and feeds results back until the task is done.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfig(configPath, audit, noRouter))
			if err != nil {
				return err
			}
			return runREPL(cmd.Context(), rt)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default cinder.yaml, $CINDER_CONFIG)")
	root.PersistentFlags().BoolVar(&audit, "audit", false, "disable the command allow-list for this session (logged)")
	root.PersistentFlags().BoolVar(&noRouter, "no-router", false, "never delegate to specialized agents")

	root.AddCommand(&cobra.Command{
		Use:   "run <message>",
		Short: "Process a single message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfig(configPath, audit, noRouter))
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), rt, joinArgs(args))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cinder %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}

// loadConfig resolves the config path (flag, then CINDER_CONFIG, then
// cinder.yaml if present) and applies flag overrides.
func loadConfig(path string, audit, noRouter bool) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CINDER_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("cinder.yaml"); err == nil {
			path = "cinder.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if audit {
		cfg.Safety.Audit = true
	}
	if noRouter {
		cfg.Router.Disabled = true
	}
	return cfg, nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

var (
	cfgFile      string
	portOverride uint16
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "aicore-gateway - multi-tenant LLM reverse proxy",
	Long: `aicore-gateway fronts a fleet of AI Core provider accounts behind a single
OpenAI/Anthropic/Gemini-compatible HTTP surface: it resolves requested model
names against a live deployment registry, load-balances and fails over
across providers, and rewrites each request body and URL to the shape the
selected provider's wire protocol expects.

Running the binary with no subcommand starts the proxy server.`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().Uint16VarP(&portOverride, "port", "p", 0, "override the configured listen port")
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}

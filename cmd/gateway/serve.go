package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/aicore-gateway/internal/app"
	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server (default action)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("gateway stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return nil
}

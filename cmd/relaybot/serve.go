package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the dispatcher, scheduler, and command surface",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	paths := pathsFromFlags(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := wire(ctx, logger, paths)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- a.run(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-runErr:
		if err != nil {
			logger.Error("daemon exited with error", "error", err)
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		a.shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

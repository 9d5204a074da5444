package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup always runs.
func run(args []string) int {
	fs := flag.NewFlagSet("motioncam", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML configuration file")
	source := fs.String("source", "", "capture source: device index or URL (overrides config)")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	motionOn := fs.Bool("motion", false, "start with motion detection enabled")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if *source != "" {
		cfg.Capture.Source = *source
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *motionOn {
		cfg.Motion.Enabled = true
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	restore := logging.ReplaceGlobal(logger)
	defer restore()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create application", zap.Error(err))
		return 1
	}
	defer app.Cleanup()

	if err := app.Run(ctx); err != nil {
		logger.Error("Application exited with error", zap.Error(err))
		return 1
	}
	logger.Info("Shutdown complete")
	return 0
}

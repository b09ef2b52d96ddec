// Command accessctl runs operator tasks against the authorization service's
// configured stores and job queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-access/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return exitError
	}
	// Command output owns stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		slog.Default().Error("init container", slog.Any("error", err))
		return exitError
	}
	defer container.Close()

	cli := &CLI{
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Audit:     container.Audit,
		Resolver:  container.Resolver,
		Analytics: container.AnalyticsCache,
	}
	if opts, ok := container.RedisOpts(); ok {
		jobsCLI := NewJobsCLI(opts)
		defer func() { _ = jobsCLI.Close() }()
		cli.Jobs = jobsCLI
	}
	return cli.Run(ctx, os.Args[1:])
}

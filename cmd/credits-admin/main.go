package main

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/credits/pkg/cli"
	"github.com/platinummonkey/credits/pkg/config"
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/storage"
)

func main() {
	if err := cli.NewRootCommand(openLedger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openLedger(ctx context.Context) (*cli.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// logs go to stderr so --json output stays parseable
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).WithField("service", "credits-admin")

	// migrate is explicit here
	cfg.Storage.AutoMigrate = false
	backend, err := storage.Open(ctx, cfg.Storage, logger, nil)
	if err != nil {
		return nil, err
	}

	opts := append(cfg.ServiceOptions(), credits.WithLogger(logger))
	if backend.Cache != nil {
		opts = append(opts, credits.WithCache(backend.Cache))
	}

	return &cli.App{
		Service: credits.NewService(backend.Store, opts...),
		Migrate: backend.Store.Migrate,
		Close:   backend.Close,
		Logger:  logger,
	}, nil
}

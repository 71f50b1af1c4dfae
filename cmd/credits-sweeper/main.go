package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/credits/pkg/config"
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/storage"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for the expiration sweep (overrides CREDITS_SWEEP_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Sweeper.Schedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "credits-sweeper")

	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer observability.ShutdownOTel(context.Background(), providers, logger)

	backend, err := storage.Open(ctx, cfg.Storage, logger, nil)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer backend.Close()

	opts := append(cfg.ServiceOptions(), credits.WithLogger(logger), credits.WithTracer(observability.Tracer()))
	if backend.Cache != nil {
		// expirations must evict cached balances
		opts = append(opts, credits.WithCache(backend.Cache))
	}
	svc := credits.NewService(backend.Store, opts...)

	// Run once mode (for manual runs and external schedulers)
	if *runOnce {
		if err := sweep(svc, cfg.Sweeper.Timeout, logger); err != nil {
			logger.WithError(err).Error("Sweep failed")
			backend.Close()
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	_, err = c.AddFunc(cfg.Sweeper.Schedule, func() {
		defer observability.RecoverPanic(logger, "sweeper schedule")
		if err := sweep(svc, cfg.Sweeper.Timeout, logger); err != nil {
			logger.WithError(err).Error("Scheduled sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	logger.Infof("Credits sweeper started with schedule %q", cfg.Sweeper.Schedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Let a running sweep finish
	stopped := c.Stop()
	<-stopped.Done()

	logger.Info("Sweeper stopped")
}

// sweep runs one pass. Only a failure to list candidates is an error;
// per-user failures are logged and retried on the next run.
func sweep(svc *credits.Service, timeout time.Duration, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := svc.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	entry := logger.WithFields(map[string]interface{}{
		"expired":     res.ExpiredCount,
		"failed":      res.FailedCount,
		"duration_ms": res.Duration.Milliseconds(),
	})
	if res.FailedCount > 0 {
		for _, ue := range res.Errors {
			logger.WithField("user_id", ue.UserID).WithError(ue.Err).Warn("user not expired")
		}
		entry.Warn("Sweep completed with failures")
		return nil
	}
	entry.Info("Sweep completed")
	return nil
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

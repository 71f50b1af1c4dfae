package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/payments"
)

// App is the ledger the commands operate on
type App struct {
	Service *credits.Service
	// Migrate applies the schema
	Migrate func(ctx context.Context) error
	// Close releases the backend, may be nil
	Close  func() error
	Logger *observability.Logger
}

// Opener connects the ledger on first use so that --help works without a database
type Opener func(ctx context.Context) (*App, error)

type options struct {
	asJSON bool
}

// NewRootCommand creates the credits-admin command tree
func NewRootCommand(open Opener) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "credits-admin",
		Short:         "Credits - inspect and repair the credit ledger",
		Long:          "credits-admin reads balances and ledger history, applies grants and expirations, runs the expiration sweep and verifies ledger consistency.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Render JSON output")

	root.AddCommand(
		newBalanceCmd(open, opts),
		newHistoryCmd(open, opts),
		newSubscriptionsCmd(open, opts),
		newGrantInitialCmd(open, opts),
		newCaptureCmd(open, opts),
		newExpireCmd(open, opts),
		newSweepCmd(open, opts),
		newVerifyCmd(open, opts),
		newPricingCmd(open, opts),
		newMigrateCmd(open),
	)

	return root
}

// withApp opens the ledger, runs fn and closes it again
func withApp(cmd *cobra.Command, open Opener, fn func(app *App) error) error {
	app, err := open(cmd.Context())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if app.Close != nil {
		defer app.Close()
	}
	return fn(app)
}

func processor(app *App) *payments.Processor {
	return payments.NewProcessor(app.Service, app.Logger)
}

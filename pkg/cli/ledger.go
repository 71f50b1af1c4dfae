package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/payments"
)

func newGrantInitialCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-initial <user-id>",
		Short: "Create a user's balance with the free allowance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				res, err := app.Service.GrantInitialCredits(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				if res.AlreadyGranted {
					fmt.Fprintf(cmd.OutOrStdout(), "user %s already has a balance\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %d free credits to %s\n", res.Amount, args[0])
				return nil
			})
		},
	}
}

func newCaptureCmd(open Opener, opts *options) *cobra.Command {
	var ref, amount string

	cmd := &cobra.Command{
		Use:   "capture <user-id>",
		Short: "Apply a captured payment that the webhook missed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := credits.ParseAmount(amount)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(app *App) error {
				out, err := processor(app).HandleCapture(cmd.Context(), payments.Capture{
					UserID:      args[0],
					PaymentRef:  ref,
					AmountCents: cents,
				})
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}

				w := cmd.OutOrStdout()
				switch {
				case out.Grant.Duplicate:
					fmt.Fprintf(w, "payment %s was already applied\n", ref)
				case out.Grant.Renewal:
					fmt.Fprintf(w, "renewed %s: %d credits, %d forfeited\n", args[0], out.Grant.Credits, out.Grant.Forfeited)
				default:
					fmt.Fprintf(w, "granted %d subscription credits to %s\n", out.Grant.Credits, args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Payment reference")
	cmd.Flags().StringVar(&amount, "amount", payments.DefaultAmount, "Captured amount")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newExpireCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <user-id>",
		Short: "Expire one user's subscription credits if they have lapsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				forfeited, err := app.Service.ExpireUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
						"user_id":   args[0],
						"forfeited": forfeited,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d credits for %s\n", forfeited, args[0])
				return nil
			})
		},
	}
}

func newSweepCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed subscription credits for every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(app *App) error {
				res, err := app.Service.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				if opts.asJSON {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "expired %d users, %d failed in %s\n", res.ExpiredCount, res.FailedCount, res.Duration)
					for _, ue := range res.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", ue.UserID, ue.Err)
					}
				}
				if res.FailedCount > 0 {
					return fmt.Errorf("%d users failed to expire", res.FailedCount)
				}
				return nil
			})
		},
	}
}

func newVerifyCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <user-id>",
		Short: "Check that a user's ledger sums to their balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				report, err := app.Service.VerifyLedger(cmd.Context(), args[0])
				if err != nil && !errors.Is(err, credits.ErrInvariantViolation) {
					return err
				}
				if opts.asJSON {
					if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
						return werr
					}
				} else {
					state := "consistent"
					if !report.Consistent {
						state = "INCONSISTENT"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: total %d, ledger sum %d, %s\n", report.UserID, report.TotalCredits, report.LedgerSum, state)
				}
				return err
			})
		},
	}
}

func newMigrateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(app *App) error {
				if app.Migrate == nil {
					return errors.New("backend does not support migrations")
				}
				if err := app.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/credits/pkg/credits"
)

func newBalanceCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				b, err := app.Service.GetBalance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), b)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintf(tw, "user\t%s\n", b.UserID)
				fmt.Fprintf(tw, "total\t%d\n", b.TotalCredits)
				fmt.Fprintf(tw, "free\t%d\n", b.FreeCredits)
				fmt.Fprintf(tw, "subscription\t%d\n", b.SubscriptionCredits)
				fmt.Fprintf(tw, "expires\t%s\n", formatExpiry(b, app.Service.Now()))
				return tw.Flush()
			})
		},
	}
}

func newHistoryCmd(open Opener, opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				txns, err := app.Service.ListTransactions(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if opts.asJSON {
					if txns == nil {
						txns = []*credits.Transaction{}
					}
					return writeJSON(cmd.OutOrStdout(), txns)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "CREATED\tTYPE\tAMOUNT\tDESCRIPTION")
				for _, txn := range txns {
					fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\n", txn.CreatedAt.Format(time.RFC3339), txn.Type, txn.Amount, txn.Description)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func newSubscriptionsCmd(open Opener, opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "subscriptions <user-id>",
		Short: "List a user's subscription records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				subs, err := app.Service.ListSubscriptions(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if opts.asJSON {
					if subs == nil {
						subs = []*credits.Subscription{}
					}
					return writeJSON(cmd.OutOrStdout(), subs)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "CREATED\tPAYMENT\tAMOUNT\tCREDITS\tEXPIRES")
				for _, sub := range subs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						sub.CreatedAt.Format(time.RFC3339),
						sub.PaymentRef,
						credits.FormatAmount(sub.AmountCents),
						sub.CreditsGranted,
						sub.ExpiresAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func formatExpiry(b *credits.Balance, now time.Time) string {
	if b.SubscriptionExpiresAt == nil {
		return "-"
	}
	expires := b.SubscriptionExpiresAt.Format(time.RFC3339)
	if b.SubscriptionExpiresAt.Before(now) {
		return expires + " (lapsed)"
	}
	return expires
}

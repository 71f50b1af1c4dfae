package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/credits/pkg/credits"
)

type pricingTier struct {
	Amount  string `json:"amount"`
	Credits int64  `json:"credits"`
}

type pricingOutput struct {
	Tiers   []pricingTier `json:"tiers"`
	Default int64         `json:"default"`
}

func newPricingCmd(open Opener, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pricing",
		Short: "Show the credits granted per captured payment amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(app *App) error {
				p := app.Service.Pricing()
				out := pricingOutput{Tiers: []pricingTier{}, Default: p.Default}
				for _, amount := range p.Amounts() {
					out.Tiers = append(out.Tiers, pricingTier{
						Amount:  credits.FormatAmount(amount),
						Credits: p.CreditsFor(amount),
					})
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "AMOUNT\tCREDITS")
				for _, tier := range out.Tiers {
					fmt.Fprintf(tw, "%s\t%d\n", tier.Amount, tier.Credits)
				}
				fmt.Fprintf(tw, "other\t%d\n", out.Default)
				return tw.Flush()
			})
		},
	}
}

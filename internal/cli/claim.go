package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/extralife/internal/claim"
	"github.com/ppiankov/extralife/internal/model"
)

var (
	claimPolicyFilter string
	claimStatusFilter string
	transitionNotes   string
	payoutDestination string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Review and pay claims",
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		list, err := a.Claims.ListClaims(ctx, claim.ListFilter{
			PolicyID: claimPolicyFilter,
			Status:   model.ClaimStatus(claimStatusFilter),
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNUMBER\tPOLICY\tTYPE\tAMOUNT\tSTATUS\tCREATED")
		for _, c := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
				c.ID, c.ClaimNumber, c.PolicyID, c.ClaimType, c.ClaimAmount, c.Status,
				c.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var claimTransitionCmd = &cobra.Command{
	Use:   "transition <claim-id> <status>",
	Short: "Move a claim along the review workflow",
	Long: `Transition moves a claim to a new status. Allowed moves:
  submitted    -> under_review, rejected
  under_review -> approved, rejected
  approved     -> paid

Approving a claim starts its payout to the beneficiaries.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		c, err := a.Claims.Transition(ctx, args[0], model.ClaimStatus(args[1]), transitionNotes)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Claim %s is %s\n", c.ClaimNumber, c.Status)
		return nil
	},
}

var claimPayoutCmd = &cobra.Command{
	Use:   "payout <claim-id>",
	Short: "Pay out an approved claim (retries only unpaid transfers)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		res, err := a.Claims.Payout(ctx, args[0], payoutDestination)
		if res != nil {
			for _, t := range res.Transfers {
				fmt.Printf("  %-20s %12.2f  %s %s\n", t.Destination, t.Amount, t.Status, t.Error)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ Claim %s paid (%s)\n", res.Claim.ClaimNumber, res.Claim.TransactionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(claimCmd)
	claimCmd.AddCommand(claimListCmd)
	claimCmd.AddCommand(claimTransitionCmd)
	claimCmd.AddCommand(claimPayoutCmd)

	claimListCmd.Flags().StringVar(&claimPolicyFilter, "policy", "", "only claims of this policy id")
	claimListCmd.Flags().StringVar(&claimStatusFilter, "status", "", "only claims with this status")
	claimTransitionCmd.Flags().StringVar(&transitionNotes, "notes", "", "review notes")
	claimPayoutCmd.Flags().StringVar(&payoutDestination, "destination", "", "pay the full amount to this CLABE instead of the beneficiaries")
}

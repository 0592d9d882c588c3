package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/policy"
)

var (
	policyStatusFilter string
	commandTimeout     time.Duration
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect policies in the store",
}

var policyShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Print a policy as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		p, err := a.Policies.GetPolicyByNumber(ctx, args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.NotFound("policy", args[0])
		}
		return printJSON(os.Stdout, p)
	},
}

var policyStatusCmd = &cobra.Command{
	Use:   "status <number>",
	Short: "Show whether a policy is active and can file claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		st, err := a.Policies.StatusOf(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Policy:           %s\n", st.PolicyNumber)
		fmt.Printf("Status:           %s\n", st.Status)
		fmt.Printf("Can file claims:  %v\n", st.CanFileClaims)
		if st.ActivationTimeRemaining > 0 {
			fmt.Printf("Activates in:     %ds\n", st.ActivationTimeRemaining)
		}
		return nil
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.PolicyStatus(policyStatusFilter)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown policy status: %s (supported: pending, active, expired, claimed)", policyStatusFilter)
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		list, err := a.Policies.ListPolicies(ctx, policy.ListFilter{Status: status})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NUMBER\tSTATUS\tTIER\tCOVERAGE\tPREMIUM\tHOLDER\tCREATED")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				p.PolicyNumber, p.Status, p.CoverageType, p.CoverageAmount, p.PremiumAmount,
				p.FullName(), p.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Run one activation sweep",
	Long: `Activate runs a single pass of the activation sweep: every pending policy
older than the activation delay becomes active.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		n, err := a.Activator.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("activation sweep: %w", err)
		}
		fmt.Printf("✓ Activated %d policies\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "timeout for one-shot commands")

	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyStatusCmd)
	policyCmd.AddCommand(policyListCmd)
	policyListCmd.Flags().StringVar(&policyStatusFilter, "status", "", "only policies with this status")

	rootCmd.AddCommand(activateCmd)
}

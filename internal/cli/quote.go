package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/pricing"
)

var (
	quoteTier     string
	quoteCoverage int64
	quoteAge      int
	quoteGender   string
	quoteRegion   string
	quoteJSON     bool
)

// quoteCmd represents the quote command
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a policy and show the factors",
	Long: `Quote computes the annual premium for a coverage tier and shows the
base rate, age band, gender and region multipliers that produced it.

Example:
  extralife quote --tier standard --age 30 --gender female --region jalisco
  extralife quote --tier premium --age 52 --gender male --json`,
	Args: cobra.NoArgs,
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteTier, "tier", "standard", "coverage tier: basic, standard, premium, platinum")
	quoteCmd.Flags().Int64Var(&quoteCoverage, "coverage", 0, "coverage amount for unknown tiers")
	quoteCmd.Flags().IntVar(&quoteAge, "age", 30, "age of the insured")
	quoteCmd.Flags().StringVar(&quoteGender, "gender", "other", "gender: male, female, other")
	quoteCmd.Flags().StringVar(&quoteRegion, "region", "", "Mexican state of residence")
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "print the quote as JSON")
}

func runQuote(cmd *cobra.Command, args []string) error {
	if quoteAge < 0 {
		return fmt.Errorf("age must be non-negative: %d", quoteAge)
	}
	q := pricing.Calculate(model.CoverageType(quoteTier), quoteCoverage, quoteAge, model.Gender(quoteGender), quoteRegion)
	if quoteJSON {
		return printJSON(os.Stdout, q)
	}
	printQuote(os.Stdout, q)
	return nil
}

func printQuote(w io.Writer, q pricing.Quote) {
	fmt.Fprintf(w, "Coverage:     %s (%d MXN)\n", q.CoverageType, q.CoverageAmount)
	fmt.Fprintf(w, "Base rate:    %.4f\n", q.BaseRate)
	fmt.Fprintf(w, "Age band:     %s (x%.2f)\n", q.AgeBand, q.AgeMultiplier)
	fmt.Fprintf(w, "Gender:       x%.2f\n", q.GenderMultiplier)
	fmt.Fprintf(w, "Region:       %s (x%.2f)\n", q.Region, q.RegionMultiplier)
	fmt.Fprintf(w, "Premium:      %d MXN/year\n", q.Premium)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

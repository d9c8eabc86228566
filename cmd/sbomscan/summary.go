package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sbomscan/internal/db"
)

var summaryJSON bool

var summaryCmd = &cobra.Command{
	Use:   "summary <artifact-id>",
	Short: "Show the latest completed scan summary for an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Output results as JSON")
}

func runSummary(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, _, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := eng.GetSummary(args[0])
	if err != nil {
		return err
	}
	if summaryJSON {
		return printJSON(cmd, summary)
	}
	printSummaryTable(cmd, *summary)
	return nil
}

func printSummaryTable(cmd *cobra.Command, summary db.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tCOUNT")
	fmt.Fprintln(w, "--------\t-----")
	fmt.Fprintf(w, "CRITICAL\t%d\n", summary.Critical)
	fmt.Fprintf(w, "HIGH\t%d\n", summary.High)
	fmt.Fprintf(w, "MEDIUM\t%d\n", summary.Medium)
	fmt.Fprintf(w, "LOW\t%d\n", summary.Low)
	fmt.Fprintf(w, "UNKNOWN\t%d\n", summary.Unknown)
	w.Flush()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("-", 24))
	fmt.Fprintf(out, "Vulnerable components: %d / %d\n", summary.VulnerableCount, summary.TotalComponents)
	fmt.Fprintf(out, "Risk level: %s\n", summary.RiskLevel)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show definition database refresh status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output results as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, _, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	status := eng.GetRefreshStatus()
	if statusJSON {
		return printJSON(cmd, status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State: %s\n", status.CurrentState)
	fmt.Fprintf(out, "Definition version: %d\n", status.Version)
	if status.LastSuccess != nil {
		fmt.Fprintf(out, "Last successful refresh: %s (took %s)\n",
			status.LastSuccess.Format("2006-01-02 15:04:05 MST"), status.LastDuration)
	} else {
		fmt.Fprintln(out, "Last successful refresh: never")
	}
	if status.NextScheduled != nil {
		fmt.Fprintf(out, "Next scheduled refresh: %s\n", status.NextScheduled.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

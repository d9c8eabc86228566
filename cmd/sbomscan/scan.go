package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	scanWait bool
	scanJSON bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <artifact-id>",
	Short: "Queue a scan for an existing artifact",
	Long: `Queues a vulnerability scan for an already-uploaded artifact. If the artifact
already has a queued or running scan, that scan is returned instead of
creating a second one.`,
	Args: cobra.ExactArgs(1),
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanWait, "wait", false, "Wait for the scan to finish and print its summary")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output results as JSON")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, _, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	scan, created, err := eng.SubmitScan(args[0])
	if err != nil {
		return err
	}
	if !created && !scanWait {
		fmt.Fprintf(cmd.OutOrStdout(), "Scan %s already active for artifact %s\n", scan.ID, args[0])
		return nil
	}

	if !scanWait {
		if scanJSON {
			return printJSON(cmd, scan)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scan %s queued for artifact %s\n", scan.ID, args[0])
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng.Start(ctx)

	finished, err := waitForScan(ctx, eng, scan.ID)
	if err != nil {
		return err
	}
	return printScanOutcome(cmd, eng, finished, scanJSON)
}

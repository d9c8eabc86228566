package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sbomscan/internal/db"
	"sbomscan/internal/engine"
)

var (
	submitFormat string
	submitWait   bool
	submitJSON   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <sbom-file>",
	Short: "Upload an SBOM and queue a vulnerability scan",
	Long: `Parses and fingerprints an SBOM file. Re-submitting identical content resolves
to the existing artifact instead of creating a duplicate. New artifacts are
scanned immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitFormat, "format", "", "declared SBOM format (cyclonedx or spdx); auto-detected when empty")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the scan to finish and print its summary")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output results as JSON")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, _, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	result, err := eng.SubmitArtifact(content, submitFormat, filepath.Base(args[0]))
	if err != nil {
		return err
	}

	if result.IsDuplicate {
		if submitJSON {
			return printJSON(cmd, result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Duplicate upload: artifact %s already exists (fingerprint %s)\n",
			result.ArtifactID, result.Fingerprint)
		return nil
	}

	if !submitWait {
		if submitJSON {
			return printJSON(cmd, result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Artifact %s accepted, scan %s queued\n", result.ArtifactID, result.ScanID)
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng.Start(ctx)

	scan, err := waitForScan(ctx, eng, result.ScanID)
	if err != nil {
		return err
	}
	return printScanOutcome(cmd, eng, scan, submitJSON)
}

// waitForScan polls until the scan reaches a terminal state.
func waitForScan(ctx context.Context, eng *engine.Engine, scanID string) (*db.Scan, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			scan, _, err := eng.GetScan(scanID)
			if err != nil {
				return nil, err
			}
			if !scan.Active() {
				return scan, nil
			}
		}
	}
}

func printScanOutcome(cmd *cobra.Command, eng *engine.Engine, scan *db.Scan, asJSON bool) error {
	if scan.State == db.ScanFailed {
		if asJSON {
			return printJSON(cmd, scan)
		}
		return fmt.Errorf("scan %s failed: %s", scan.ID, scan.FailureReason)
	}

	_, matches, err := eng.GetScan(scan.ID)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, map[string]interface{}{
			"scan":    scan,
			"matches": matches,
		})
	}
	printSummaryTable(cmd, scan.Summary)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

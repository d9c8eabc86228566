package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sbomscan/internal/definitions"
)

var refreshWait bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Trigger a vulnerability-definition database refresh",
	Long: `Queues a definition refresh. If a refresh is already queued or running the
existing job is reported instead of starting a second one. A failed refresh
leaves the previous definition version active.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().BoolVar(&refreshWait, "wait", false, "Wait for the refresh to finish")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, _, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	id, created, err := eng.TriggerRefresh()
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(cmd.OutOrStdout(), "Refresh %d already active\n", id)
		return nil
	}
	if !refreshWait {
		fmt.Fprintf(cmd.OutOrStdout(), "Refresh %d queued\n", id)
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng.Start(ctx)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status := eng.GetRefreshStatus()
			if status.CurrentState == definitions.StatusIdle {
				fmt.Fprintf(cmd.OutOrStdout(), "Definition database at version %d\n", status.Version)
				return nil
			}
		}
	}
}

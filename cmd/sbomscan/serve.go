package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sbomscan/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan engine as a long-lived daemon",
	Long: `Starts the worker pool, the periodic definition-refresh scheduler and the
Prometheus metrics endpoint, then waits for shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	eng, store, m, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eng.Start(ctx)

	sched := scheduler.New(eng,
		time.Duration(viper.GetInt("refresh.interval"))*time.Second, logger)
	go sched.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsAddr := fmt.Sprintf(":%d", viper.GetInt("metrics_port"))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	eng.Wait()
	logger.Info("shutdown complete")
	return nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sbomscan/internal/config"
	"sbomscan/internal/db"
	"sbomscan/internal/definitions"
	"sbomscan/internal/docker"
	"sbomscan/internal/engine"
	"sbomscan/internal/metrics"
	"sbomscan/internal/notify"
	"sbomscan/internal/scanner"
)

var exit = os.Exit
var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sbomscan",
	Short: "SBOM vulnerability scan orchestration",
	Long: `sbomscan ingests SBOM artifacts (CycloneDX and SPDX), deduplicates them by
content, and drives asynchronous vulnerability scans against them using a
continuously refreshed definition database.`,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sbomscan.yaml)")
}

func initConfig() {
	config.Load(cfgFile)
	if err := config.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch viper.GetString("log_level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore() (db.Store, error) {
	return db.NewStore(db.StoreConfig{
		Type:             viper.GetString("store.type"),
		ConnectionString: viper.GetString("store.dsn"),
	})
}

func newAdapter(logger *slog.Logger) (scanner.Adapter, error) {
	cacheDir := viper.GetString("scanner.cache_dir")
	switch viper.GetString("scanner.mode") {
	case "docker":
		client, err := docker.NewClient()
		if err != nil {
			return nil, err
		}
		return scanner.NewDockerScanner(client, viper.GetString("scanner.image"), cacheDir, logger), nil
	default:
		return scanner.NewExecScanner(viper.GetString("scanner.binary"), cacheDir, logger), nil
	}
}

func engineConfig() engine.Config {
	return engine.Config{
		Workers:        viper.GetInt("workers"),
		QueueSize:      viper.GetInt("queue_size"),
		ScanTimeout:    time.Duration(viper.GetInt("scan_timeout")) * time.Second,
		RefreshTimeout: time.Duration(viper.GetInt("refresh.timeout")) * time.Second,
		MaxAttempts:    viper.GetInt("retry.max_attempts"),
		RetryBackoff:   time.Duration(viper.GetInt("retry.backoff")) * time.Second,
	}
}

// buildEngine wires the store, scanner adapter and engine for a command.
// The caller owns closing the returned store.
func buildEngine(logger *slog.Logger) (*engine.Engine, db.Store, *metrics.Metrics, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	adapter, err := newAdapter(logger)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create scanner adapter: %w", err)
	}

	defs := definitions.New()
	m := metrics.NewMetrics()
	notifier := notify.NewManager(logger)
	eng := engine.New(store, adapter, defs, m, notifier, logger, engineConfig())
	return eng, store, m, nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration from file and environment variables.
func Load(cfgFile string) {
	// explicit .env loading; a missing file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("sbomscan")
	}

	viper.SetEnvPrefix("SBOMSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Storage
	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.dsn", ".sbomscan.db")

	// Worker pool
	viper.SetDefault("workers", 4)
	viper.SetDefault("queue_size", 256)
	viper.SetDefault("scan_timeout", 300)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.backoff", 2)

	// Scanner tool
	viper.SetDefault("scanner.mode", "exec") // exec | docker
	viper.SetDefault("scanner.binary", "trivy")
	viper.SetDefault("scanner.image", "aquasec/trivy:latest")
	viper.SetDefault("scanner.cache_dir", defaultCacheDir())

	// Definition refresh
	viper.SetDefault("refresh.interval", 43200)
	viper.SetDefault("refresh.timeout", 600)

	// Observability
	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("log_level", "info")

	// Notifications
	slackEnabled := os.Getenv("SLACK_BOT_USER_TOKEN") != ""
	viper.SetDefault("notifications.slack.enabled", slackEnabled)
	viper.SetDefault("notifications.slack.channel", "#security")
	viper.SetDefault("notifications.slack.events.on_scan_completed", true)
	viper.SetDefault("notifications.slack.events.on_scan_failed", true)
	viper.SetDefault("notifications.slack.events.on_refresh_failed", true)

	// A missing config file is not an error; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trivy-cache"
	}
	return filepath.Join(home, ".cache", "trivy")
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ValidateConfig validates configuration values and returns an error if any are
// invalid. Call after Load.
func ValidateConfig() error {
	var errs []string

	if w := viper.GetInt("workers"); w <= 0 {
		errs = append(errs, fmt.Sprintf("workers must be positive, got: %d", w))
	}
	if q := viper.GetInt("queue_size"); q <= 0 {
		errs = append(errs, fmt.Sprintf("queue_size must be positive, got: %d", q))
	}
	if t := viper.GetInt("scan_timeout"); t <= 0 {
		errs = append(errs, fmt.Sprintf("scan_timeout must be positive, got: %d", t))
	}
	if t := viper.GetInt("refresh.timeout"); t <= 0 {
		errs = append(errs, fmt.Sprintf("refresh.timeout must be positive, got: %d", t))
	}
	if i := viper.GetInt("refresh.interval"); i <= 0 {
		errs = append(errs, fmt.Sprintf("refresh.interval must be positive, got: %d", i))
	}
	if a := viper.GetInt("retry.max_attempts"); a <= 0 {
		errs = append(errs, fmt.Sprintf("retry.max_attempts must be positive, got: %d", a))
	}
	if p := viper.GetInt("metrics_port"); p <= 0 || p > 65535 {
		errs = append(errs, fmt.Sprintf("metrics_port must be a valid port, got: %d", p))
	}

	switch mode := viper.GetString("scanner.mode"); mode {
	case "exec", "docker":
	default:
		errs = append(errs, fmt.Sprintf("scanner.mode must be exec or docker, got: %q", mode))
	}

	switch storeType := strings.ToLower(viper.GetString("store.type")); storeType {
	case "sqlite", "sqlite3", "postgres", "postgresql", "":
	default:
		errs = append(errs, fmt.Sprintf("store.type must be sqlite or postgres, got: %q", storeType))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

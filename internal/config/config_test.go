package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	Load("")

	cases := []struct {
		key  string
		want interface{}
	}{
		{"store.type", "sqlite"},
		{"store.dsn", ".sbomscan.db"},
		{"workers", 4},
		{"queue_size", 256},
		{"scan_timeout", 300},
		{"retry.max_attempts", 3},
		{"retry.backoff", 2},
		{"scanner.mode", "exec"},
		{"scanner.binary", "trivy"},
		{"scanner.image", "aquasec/trivy:latest"},
		{"refresh.interval", 43200},
		{"refresh.timeout", 600},
		{"metrics_port", 2112},
		{"log_level", "info"},
	}
	for _, tc := range cases {
		switch want := tc.want.(type) {
		case string:
			if got := viper.GetString(tc.key); got != want {
				t.Errorf("%s: expected %q, got %q", tc.key, want, got)
			}
		case int:
			if got := viper.GetInt(tc.key); got != want {
				t.Errorf("%s: expected %d, got %d", tc.key, want, got)
			}
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("SBOMSCAN_WORKERS", "16")
	t.Setenv("SBOMSCAN_SCANNER_MODE", "docker")
	Load("")

	if got := viper.GetInt("workers"); got != 16 {
		t.Errorf("Expected env override workers=16, got %d", got)
	}
	if got := viper.GetString("scanner.mode"); got != "docker" {
		t.Errorf("Expected env override scanner.mode=docker, got %q", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfgPath := filepath.Join(t.TempDir(), "sbomscan.yaml")
	content := "workers: 8\nstore:\n  type: postgres\n  dsn: postgres://localhost/sbomscan\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	Load(cfgPath)

	if got := viper.GetInt("workers"); got != 8 {
		t.Errorf("Expected workers=8 from file, got %d", got)
	}
	if got := viper.GetString("store.type"); got != "postgres" {
		t.Errorf("Expected store.type=postgres from file, got %q", got)
	}
	// Unset keys keep defaults.
	if got := viper.GetInt("queue_size"); got != 256 {
		t.Errorf("Expected default queue_size, got %d", got)
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	Load("")

	if err := ValidateConfig(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value interface{}
	}{
		{"workers", 0},
		{"queue_size", -1},
		{"scan_timeout", 0},
		{"refresh.timeout", 0},
		{"refresh.interval", -5},
		{"retry.max_attempts", 0},
		{"metrics_port", 70000},
		{"scanner.mode", "podman"},
		{"store.type", "mongodb"},
	}
	for _, tc := range cases {
		viper.Reset()
		Load("")
		viper.Set(tc.key, tc.value)
		if err := ValidateConfig(); err == nil {
			t.Errorf("%s=%v should fail validation", tc.key, tc.value)
		}
	}
	viper.Reset()
}

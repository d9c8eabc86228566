package scanner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"sbomscan/internal/db"
)

const severityFilter = "UNKNOWN,LOW,MEDIUM,HIGH,CRITICAL"

// ExecScanner runs the trivy binary as a subprocess.
type ExecScanner struct {
	Binary   string
	CacheDir string
	Logger   *slog.Logger
}

// NewExecScanner creates an ExecScanner for a trivy binary.
func NewExecScanner(binary, cacheDir string, logger *slog.Logger) *ExecScanner {
	if binary == "" {
		binary = "trivy"
	}
	return &ExecScanner{Binary: binary, CacheDir: cacheDir, Logger: logger}
}

// CheckInstalled verifies the binary is present and runnable.
func (s *ExecScanner) CheckInstalled(ctx context.Context) error {
	if err := exec.CommandContext(ctx, s.Binary, "--version").Run(); err != nil {
		return &InvocationError{Err: fmt.Errorf("%s is not installed: %w", s.Binary, err)}
	}
	return nil
}

// Scan writes the artifact into a scoped temp dir, runs `trivy sbom` against it
// and parses the JSON report. The temp dir is removed on every exit path.
func (s *ExecScanner) Scan(ctx context.Context, artifact *db.Artifact, definitionVersion int64) ([]Match, error) {
	workDir, err := os.MkdirTemp("", "sbomscan-scan-*")
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("failed to create working area: %w", err)}
	}
	defer os.RemoveAll(workDir)

	sbomPath := filepath.Join(workDir, "sbom."+extensionFor(artifact.Content))
	if err := os.WriteFile(sbomPath, artifact.Content, 0o600); err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("failed to write artifact: %w", err)}
	}

	args := []string{"sbom", "--format", "json", "--severity", severityFilter}
	if s.CacheDir != "" {
		args = append(args, "--cache-dir", s.CacheDir)
	}
	args = append(args, sbomPath)

	s.Logger.Debug("invoking scanner",
		"binary", s.Binary, "artifact", artifact.ID, "definition_version", definitionVersion)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			// Could not start the tool at all.
			return nil, &InvocationError{Err: runErr}
		}
		// Exit code 1 means findings were reported; anything else is a tool fault.
		if exitErr.ExitCode() != 1 {
			return nil, &ExecutionError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
	}

	matches, err := parseReport(stdout.Bytes())
	if err != nil {
		return nil, &ExecutionError{ExitCode: 0, Stderr: err.Error()}
	}
	return matches, nil
}

// UpdateDatabase refreshes the tool's vulnerability database
// (`trivy image --download-db-only`).
func (s *ExecScanner) UpdateDatabase(ctx context.Context) error {
	args := []string{"image", "--download-db-only"}
	if s.CacheDir != "" {
		args = append(args, "--cache-dir", s.CacheDir)
	}

	s.Logger.Info("updating vulnerability database", "binary", s.Binary, "cache_dir", s.CacheDir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &RefreshError{Err: ctx.Err()}
		}
		return &RefreshError{Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}
	return nil
}

func extensionFor(content []byte) string {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return "xml"
	}
	return "json"
}

package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"sbomscan/internal/db"
	"sbomscan/internal/docker"
)

// DockerScanner runs the trivy image as a one-shot container. Useful where the
// binary is not installed on the host.
type DockerScanner struct {
	Client   *docker.Client
	Image    string
	CacheDir string
	Logger   *slog.Logger
}

// NewDockerScanner creates a DockerScanner for the given image reference.
func NewDockerScanner(client *docker.Client, image, cacheDir string, logger *slog.Logger) *DockerScanner {
	if image == "" {
		image = "aquasec/trivy:latest"
	}
	return &DockerScanner{Client: client, Image: image, CacheDir: cacheDir, Logger: logger}
}

func (s *DockerScanner) ensureImage(ctx context.Context) error {
	exists, err := s.Client.CheckImage(ctx, s.Image)
	if err != nil {
		return &InvocationError{Err: err}
	}
	if exists {
		return nil
	}
	s.Logger.Info("pulling scanner image", "image", s.Image)
	if err := s.Client.PullImage(ctx, s.Image); err != nil {
		return &InvocationError{Err: err}
	}
	return nil
}

// Scan mounts the artifact into a scanner container and parses its JSON report.
func (s *DockerScanner) Scan(ctx context.Context, artifact *db.Artifact, definitionVersion int64) ([]Match, error) {
	if err := s.Client.CheckDaemon(ctx); err != nil {
		return nil, &InvocationError{Err: err}
	}
	if err := s.ensureImage(ctx); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "sbomscan-scan-*")
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("failed to create working area: %w", err)}
	}
	defer os.RemoveAll(workDir)

	name := "sbom." + extensionFor(artifact.Content)
	if err := os.WriteFile(filepath.Join(workDir, name), artifact.Content, 0o600); err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("failed to write artifact: %w", err)}
	}

	binds := []string{workDir + ":/scan"}
	if s.CacheDir != "" {
		binds = append(binds, s.CacheDir+":/root/.cache/trivy")
	}
	cmd := []string{"sbom", "--format", "json", "--severity", severityFilter, "/scan/" + name}

	s.Logger.Debug("invoking scanner container",
		"image", s.Image, "artifact", artifact.ID, "definition_version", definitionVersion)

	result, err := s.Client.RunOnce(ctx, s.Image, cmd, binds, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &InvocationError{Err: err}
	}
	if result.ExitCode != 0 && result.ExitCode != 1 {
		return nil, &ExecutionError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	matches, err := parseReport([]byte(result.Stdout))
	if err != nil {
		return nil, &ExecutionError{ExitCode: result.ExitCode, Stderr: err.Error()}
	}
	return matches, nil
}

// UpdateDatabase refreshes the vulnerability database inside a container,
// persisting it through the mounted cache directory.
func (s *DockerScanner) UpdateDatabase(ctx context.Context) error {
	if err := s.Client.CheckDaemon(ctx); err != nil {
		return &RefreshError{Err: err}
	}
	if err := s.ensureImage(ctx); err != nil {
		return &RefreshError{Err: err}
	}

	var binds []string
	if s.CacheDir != "" {
		binds = append(binds, s.CacheDir+":/root/.cache/trivy")
	}

	result, err := s.Client.RunOnce(ctx, s.Image, []string{"image", "--download-db-only"}, binds, nil)
	if err != nil {
		return &RefreshError{Err: err}
	}
	if result.ExitCode != 0 {
		return &RefreshError{Err: fmt.Errorf("exit %d: %s", result.ExitCode, result.Stderr)}
	}
	return nil
}

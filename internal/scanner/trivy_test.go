package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"sbomscan/internal/db"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArtifact() *db.Artifact {
	return &db.Artifact{
		ID:        "art-1",
		Format:    "cyclonedx",
		Content:   []byte(`{"bomFormat":"CycloneDX","components":[]}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestExecScannerMissingBinary(t *testing.T) {
	// Point the temp root at an inspectable dir so cleanup is observable.
	tmpRoot := t.TempDir()
	t.Setenv("TMPDIR", tmpRoot)

	s := NewExecScanner("definitely-not-a-real-binary-xyz", "", discardLogger())
	_, err := s.Scan(context.Background(), testArtifact(), 1)

	var inv *InvocationError
	if !errors.As(err, &inv) {
		t.Fatalf("Expected InvocationError, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("Missing binary should be a transient failure")
	}

	entries, readErr := os.ReadDir(tmpRoot)
	if readErr != nil {
		t.Fatalf("Failed to read temp root: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("Expected working area removed after failure, found %d entries", len(entries))
	}
}

func TestExecScannerCanceledContext(t *testing.T) {
	tmpRoot := t.TempDir()
	t.Setenv("TMPDIR", tmpRoot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewExecScanner("definitely-not-a-real-binary-xyz", "", discardLogger())
	_, err := s.Scan(ctx, testArtifact(), 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	entries, _ := os.ReadDir(tmpRoot)
	if len(entries) != 0 {
		t.Errorf("Expected working area removed after cancellation, found %d entries", len(entries))
	}
}

func TestCheckInstalledMissingBinary(t *testing.T) {
	s := NewExecScanner("definitely-not-a-real-binary-xyz", "", discardLogger())
	err := s.CheckInstalled(context.Background())
	var inv *InvocationError
	if !errors.As(err, &inv) {
		t.Errorf("Expected InvocationError, got %v", err)
	}
}

func TestUpdateDatabaseMissingBinary(t *testing.T) {
	s := NewExecScanner("definitely-not-a-real-binary-xyz", "", discardLogger())
	err := s.UpdateDatabase(context.Background())
	var refresh *RefreshError
	if !errors.As(err, &refresh) {
		t.Errorf("Expected RefreshError, got %v", err)
	}
}

func TestNewExecScannerDefaultBinary(t *testing.T) {
	s := NewExecScanner("", "/tmp/cache", discardLogger())
	if s.Binary != "trivy" {
		t.Errorf("Expected default binary trivy, got %s", s.Binary)
	}
}

package scanner

import (
	"errors"
	"testing"
	"time"
)

const sampleReport = `{
  "Results": [
    {
      "Target": "sbom.json",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2021-44228",
          "PkgName": "log4j-core",
          "InstalledVersion": "2.14.1",
          "FixedVersion": "2.15.0",
          "Severity": "CRITICAL",
          "Description": "Remote code execution in Log4j",
          "CVSS": {
            "nvd": {"V3Score": 10.0},
            "redhat": {"V3Score": 9.8}
          },
          "PublishedDate": "2021-12-10T10:15:00Z",
          "LastModifiedDate": "2022-02-04T16:24:00Z"
        },
        {
          "VulnerabilityID": "CVE-2022-37434",
          "PkgName": "zlib",
          "InstalledVersion": "1.2.11",
          "Severity": "LOW",
          "CVSS": {
            "redhat": {"V3Score": 7.0}
          }
        }
      ]
    },
    {
      "Target": "other",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2020-0001",
          "PkgName": "busybox",
          "InstalledVersion": "1.33.1",
          "Severity": "MEDIUM",
          "PublishedDate": "not-a-date"
        }
      ]
    }
  ]
}`

func TestParseReport(t *testing.T) {
	matches, err := parseReport([]byte(sampleReport))
	if err != nil {
		t.Fatalf("parseReport failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Expected 3 matches across results, got %d", len(matches))
	}

	first := matches[0]
	if first.VulnerabilityID != "CVE-2021-44228" || first.ComponentName != "log4j-core" {
		t.Errorf("Unexpected first match: %+v", first)
	}
	if first.Score != 10.0 {
		t.Errorf("Expected NVD score preferred, got %v", first.Score)
	}
	if first.FixedVersion != "2.15.0" {
		t.Errorf("Expected fixed version, got %q", first.FixedVersion)
	}
	if first.PublishedAt == nil || first.PublishedAt.Year() != 2021 {
		t.Errorf("Expected parsed published date, got %v", first.PublishedAt)
	}
	if first.ModifiedAt == nil {
		t.Error("Expected parsed modified date")
	}

	// No NVD entry: fall back to any reporting source.
	if matches[1].Score != 7.0 {
		t.Errorf("Expected fallback score 7.0, got %v", matches[1].Score)
	}

	// Malformed dates degrade to nil rather than failing the report.
	if matches[2].PublishedAt != nil {
		t.Errorf("Expected nil for malformed date, got %v", matches[2].PublishedAt)
	}
}

func TestParseReportEmpty(t *testing.T) {
	matches, err := parseReport([]byte(`{"Results": []}`))
	if err != nil {
		t.Fatalf("parseReport failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(matches))
	}
}

func TestParseReportInvalid(t *testing.T) {
	if _, err := parseReport([]byte("not json")); err == nil {
		t.Error("Expected error for invalid report")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&InvocationError{Err: errors.New("connection refused")}) {
		t.Error("InvocationError should be transient")
	}
	if IsTransient(&ExecutionError{ExitCode: 2, Stderr: "panic"}) {
		t.Error("ExecutionError should not be transient")
	}
	if IsTransient(&RefreshError{Err: errors.New("download failed")}) {
		t.Error("RefreshError should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

func TestExtensionFor(t *testing.T) {
	if got := extensionFor([]byte(`  {"bomFormat":"CycloneDX"}`)); got != "json" {
		t.Errorf("Expected json, got %s", got)
	}
	if got := extensionFor([]byte("\n<?xml version=\"1.0\"?><bom/>")); got != "xml" {
		t.Errorf("Expected xml, got %s", got)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2021, 12, 10, 10, 15, 0, 0, time.UTC)
	got := parseDate("2021-12-10T10:15:00Z")
	if got == nil || !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if parseDate("") != nil {
		t.Error("Expected nil for empty date")
	}
}

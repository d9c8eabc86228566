package aggregate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbomscan/internal/db"
	"sbomscan/internal/scanner"
)

func TestNormalizeSeverity(t *testing.T) {
	cases := map[string]string{
		"CRITICAL":   SeverityCritical,
		"critical":   SeverityCritical,
		" High ":     SeverityHigh,
		"MEDIUM":     SeverityMedium,
		"low":        SeverityLow,
		"":           SeverityUnknown,
		"NEGLIGIBLE": SeverityUnknown,
		"bogus":      SeverityUnknown,
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeSeverity(input), "input %q", input)
	}
}

func TestSummarizeClean(t *testing.T) {
	summary := Summarize(nil, 12)
	assert.Equal(t, RiskClean, summary.RiskLevel)
	assert.Equal(t, 0, summary.VulnerableCount)
	assert.Equal(t, 12, summary.TotalComponents)
}

func TestSummarizeHistogram(t *testing.T) {
	matches := []db.Match{
		{VulnerabilityID: "CVE-1", Severity: "CRITICAL", ComponentName: "log4j-core", ComponentVersion: "2.14.1"},
		{VulnerabilityID: "CVE-2", Severity: "LOW", ComponentName: "zlib", ComponentVersion: "1.2.11"},
		{VulnerabilityID: "CVE-3", Severity: "low", ComponentName: "zlib", ComponentVersion: "1.2.11"},
	}

	summary := Summarize(matches, 10)
	assert.Equal(t, 1, summary.Critical)
	assert.Equal(t, 2, summary.Low)
	assert.Equal(t, 0, summary.High)
	// Two findings on the same name@version count once.
	assert.Equal(t, 2, summary.VulnerableCount)
	assert.Equal(t, 10, summary.TotalComponents)
	assert.Equal(t, SeverityCritical, summary.RiskLevel)
}

func TestSummarizeRiskIsHighestPresent(t *testing.T) {
	matches := []db.Match{
		{VulnerabilityID: "CVE-1", Severity: "MEDIUM", ComponentName: "a", ComponentVersion: "1"},
		{VulnerabilityID: "CVE-2", Severity: "weird", ComponentName: "b", ComponentVersion: "1"},
	}
	summary := Summarize(matches, 2)
	assert.Equal(t, SeverityMedium, summary.RiskLevel)
	assert.Equal(t, 1, summary.Unknown)

	onlyUnknown := Summarize(matches[1:], 2)
	assert.Equal(t, SeverityUnknown, onlyUnknown.RiskLevel)
}

func TestSummarizeSameVersionDifferentComponents(t *testing.T) {
	matches := []db.Match{
		{VulnerabilityID: "CVE-1", Severity: "HIGH", ComponentName: "a", ComponentVersion: "1.0"},
		{VulnerabilityID: "CVE-1", Severity: "HIGH", ComponentName: "b", ComponentVersion: "1.0"},
	}
	summary := Summarize(matches, 5)
	assert.Equal(t, 2, summary.VulnerableCount)
}

func TestAggregatePersistsAndSummarizes(t *testing.T) {
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveArtifact(&db.Artifact{
		ID: "art-1", Fingerprint: "fp-1", Format: "cyclonedx",
		Content: []byte("{}"), ComponentCount: 10, CreatedAt: time.Now().UTC(),
	}))
	_, _, err = store.CreateScan(&db.Scan{ID: "scan-1", ArtifactID: "art-1", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	raw := []scanner.Match{
		{VulnerabilityID: "CVE-2021-44228", Severity: "critical", Score: 10.0,
			ComponentName: "log4j-core", ComponentVersion: "2.14.1", FixedVersion: "2.17.0"},
		{VulnerabilityID: "CVE-2018-25032", Severity: "LOW", ComponentName: "zlib", ComponentVersion: "1.2.11"},
		{VulnerabilityID: "CVE-2022-37434", Severity: "LOW", ComponentName: "zlib", ComponentVersion: "1.2.11"},
	}

	// Running it twice must not duplicate match rows.
	for i := 0; i < 2; i++ {
		summary, err := Aggregate(store, "scan-1", 10, raw)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Critical)
		assert.Equal(t, 2, summary.Low)
		assert.Equal(t, 2, summary.VulnerableCount)
		assert.Equal(t, 10, summary.TotalComponents)
		assert.Equal(t, SeverityCritical, summary.RiskLevel)
	}

	persisted, err := store.GetMatches("scan-1")
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	// Severity is normalized before persisting.
	assert.Equal(t, SeverityCritical, persisted[0].Severity)
}

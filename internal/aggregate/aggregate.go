// Package aggregate turns raw scanner matches into persisted summaries.
package aggregate

import (
	"fmt"
	"strings"

	"sbomscan/internal/db"
	"sbomscan/internal/scanner"
)

// Severity levels, ordered highest first. Anything the tool reports outside this
// set is folded into UNKNOWN.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityUnknown  = "UNKNOWN"

	// RiskClean is the risk level of a scan with zero matches.
	RiskClean = "CLEAN"
)

var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// NormalizeSeverity maps a tool-reported severity string onto the ordered enum.
func NormalizeSeverity(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := severityRank[upper]; ok {
		return upper
	}
	return SeverityUnknown
}

// Aggregate persists one match row per raw match and computes the scan summary.
// Idempotent: re-aggregating the same scan replaces prior matches rather than
// duplicating them, which retries rely on.
func Aggregate(store db.Store, scanID string, totalComponents int, raw []scanner.Match) (db.Summary, error) {
	rows := make([]db.Match, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, db.Match{
			ScanID:           scanID,
			VulnerabilityID:  m.VulnerabilityID,
			Severity:         NormalizeSeverity(m.Severity),
			Score:            m.Score,
			ComponentName:    m.ComponentName,
			ComponentVersion: m.ComponentVersion,
			FixedVersion:     m.FixedVersion,
			Description:      m.Description,
			PublishedAt:      m.PublishedAt,
			ModifiedAt:       m.ModifiedAt,
		})
	}

	if err := store.ReplaceMatches(scanID, rows); err != nil {
		return db.Summary{}, fmt.Errorf("failed to persist matches: %w", err)
	}

	return Summarize(rows, totalComponents), nil
}

// Summarize computes the severity histogram and risk level for a set of match
// rows. It is a pure function of the matches; the stored summary can be
// regenerated from them at any time.
func Summarize(matches []db.Match, totalComponents int) db.Summary {
	summary := db.Summary{
		TotalComponents: totalComponents,
		RiskLevel:       RiskClean,
	}

	vulnerable := make(map[string]struct{})
	highest := -1
	for _, m := range matches {
		switch NormalizeSeverity(m.Severity) {
		case SeverityCritical:
			summary.Critical++
		case SeverityHigh:
			summary.High++
		case SeverityMedium:
			summary.Medium++
		case SeverityLow:
			summary.Low++
		default:
			summary.Unknown++
		}
		vulnerable[m.ComponentName+"@"+m.ComponentVersion] = struct{}{}

		if rank := severityRank[NormalizeSeverity(m.Severity)]; rank > highest {
			highest = rank
			summary.RiskLevel = NormalizeSeverity(m.Severity)
		}
	}
	summary.VulnerableCount = len(vulnerable)

	return summary
}

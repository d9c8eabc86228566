package scanner

import (
	"encoding/json"
	"fmt"
	"time"
)

// trivy JSON report structure, reduced to the fields we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			FixedVersion     string `json:"FixedVersion"`
			Severity         string `json:"Severity"`
			Description      string `json:"Description"`
			CVSS             map[string]struct {
				V3Score float64 `json:"V3Score"`
			} `json:"CVSS"`
			PublishedDate    string `json:"PublishedDate"`
			LastModifiedDate string `json:"LastModifiedDate"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// parseReport converts raw trivy JSON output into match records.
func parseReport(output []byte) ([]Match, error) {
	var report trivyReport
	if err := json.Unmarshal(output, &report); err != nil {
		return nil, fmt.Errorf("failed to decode scanner output: %w", err)
	}

	var matches []Match
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			m := Match{
				VulnerabilityID:  v.VulnerabilityID,
				Severity:         v.Severity,
				ComponentName:    v.PkgName,
				ComponentVersion: v.InstalledVersion,
				FixedVersion:     v.FixedVersion,
				Description:      v.Description,
				PublishedAt:      parseDate(v.PublishedDate),
				ModifiedAt:       parseDate(v.LastModifiedDate),
			}
			// Prefer the NVD score; fall back to whichever source reported one.
			if s, ok := v.CVSS["nvd"]; ok {
				m.Score = s.V3Score
			} else {
				for _, s := range v.CVSS {
					if s.V3Score > 0 {
						m.Score = s.V3Score
						break
					}
				}
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

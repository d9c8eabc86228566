// Package scanner invokes the external vulnerability-matching tool (trivy)
// against one artifact and returns structured matches. The matching algorithm
// itself is the tool's concern; this package only drives it.
package scanner

import (
	"context"
	"time"

	"sbomscan/internal/db"
)

// Match is one raw finding reported by the scanning tool.
type Match struct {
	VulnerabilityID  string     `json:"vulnerability_id"`
	Severity         string     `json:"severity"`
	Score            float64    `json:"score"`
	ComponentName    string     `json:"component_name"`
	ComponentVersion string     `json:"component_version"`
	FixedVersion     string     `json:"fixed_version,omitempty"`
	Description      string     `json:"description,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	ModifiedAt       *time.Time `json:"modified_at,omitempty"`
}

// Adapter is the capability interface for the external scanning tool.
// Scan pins the definition version at invocation start; implementations must
// clean up any scoped working area on every exit path.
type Adapter interface {
	Scan(ctx context.Context, artifact *db.Artifact, definitionVersion int64) ([]Match, error)
	UpdateDatabase(ctx context.Context) error
}

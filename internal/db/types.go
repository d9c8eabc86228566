package db

import "time"

// Scan states. queued and running are the only non-terminal states.
const (
	ScanQueued    = "queued"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

// Failure reasons recorded on terminal failed scans and refreshes.
const (
	ReasonTimeout         = "timeout"
	ReasonToolInvocation  = "tool_invocation_error"
	ReasonToolExecution   = "tool_execution_error"
	ReasonRefreshDownload = "refresh_download_error"
	ReasonInternal        = "internal_error"
)

// Artifact is one deduplicated SBOM upload. Immutable after creation.
type Artifact struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	Format         string    `json:"format"`
	Filename       string    `json:"filename"`
	Content        []byte    `json:"-"`
	ComponentCount int       `json:"component_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary is the severity histogram for one completed scan.
type Summary struct {
	Critical        int    `json:"critical"`
	High            int    `json:"high"`
	Medium          int    `json:"medium"`
	Low             int    `json:"low"`
	Unknown         int    `json:"unknown"`
	VulnerableCount int    `json:"vulnerable_count"`
	TotalComponents int    `json:"total_components"`
	RiskLevel       string `json:"risk_level"`
}

// Scan is one execution attempt against an artifact.
type Scan struct {
	ID                string     `json:"id"`
	ArtifactID        string     `json:"artifact_id"`
	State             string     `json:"state"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	DefinitionVersion int64      `json:"definition_version"`
	Summary           Summary    `json:"summary"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	DurationSeconds   int        `json:"duration_seconds"`
}

// Active reports whether the scan still occupies the per-artifact concurrency slot.
func (s *Scan) Active() bool {
	return s.State == ScanQueued || s.State == ScanRunning
}

// Match is one (scan, component, vulnerability) association, owned by its scan.
type Match struct {
	ID               int64      `json:"id"`
	ScanID           string     `json:"scan_id"`
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

// RefreshRecord is one definition-database refresh cycle.
type RefreshRecord struct {
	ID              int64      `json:"id"`
	Version         int64      `json:"version"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

// Store defines the methods for persistent storage of artifacts, scans and matches.
type Store interface {
	Close() error

	SaveArtifact(a *Artifact) error
	GetArtifact(id string) (*Artifact, error)
	GetArtifactByFingerprint(fingerprint string) (*Artifact, error)

	// CreateScan atomically checks for an active scan on the artifact and inserts a new
	// queued scan only if none exists. The bool is true when the returned scan was
	// created by this call, false when an existing active scan was returned instead.
	CreateScan(scan *Scan) (*Scan, bool, error)
	GetScan(id string) (*Scan, error)
	MarkScanRunning(id string, startedAt time.Time, definitionVersion int64) error
	CompleteScan(id string, summary Summary, finishedAt time.Time, durationSeconds int) error
	FailScan(id string, reason string, finishedAt time.Time, durationSeconds int) error
	LatestCompletedScan(artifactID string) (*Scan, error)

	// ReplaceMatches replaces all matches of a scan in one transaction so that
	// re-aggregating after a retry never duplicates rows.
	ReplaceMatches(scanID string, matches []Match) error
	GetMatches(scanID string) ([]Match, error)

	BeginRefresh(startedAt time.Time) (int64, error)
	FinishRefresh(id int64, status string, version int64, finishedAt time.Time, durationSeconds int, errMsg string) error
	LastSuccessfulRefresh() (*RefreshRecord, error)
}

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.ID
}

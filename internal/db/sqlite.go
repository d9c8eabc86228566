package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection keeps writers serialized and avoids SQLITE_BUSY under
	// concurrent scan admission.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			format TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			content BLOB NOT NULL,
			component_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			artifact_id TEXT NOT NULL REFERENCES artifacts(id),
			state TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			definition_version INTEGER NOT NULL DEFAULT 0,
			critical_count INTEGER NOT NULL DEFAULT 0,
			high_count INTEGER NOT NULL DEFAULT 0,
			medium_count INTEGER NOT NULL DEFAULT 0,
			low_count INTEGER NOT NULL DEFAULT 0,
			unknown_count INTEGER NOT NULL DEFAULT 0,
			vulnerable_count INTEGER NOT NULL DEFAULT 0,
			total_components INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		);`,
		// At most one queued/running scan per artifact, enforced in the schema so
		// admission stays atomic under concurrent submissions.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_one_active
			ON scans(artifact_id) WHERE state IN ('queued', 'running');`,
		`CREATE INDEX IF NOT EXISTS idx_scans_artifact_created ON scans(artifact_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT NOT NULL REFERENCES scans(id),
			vulnerability_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			component_name TEXT NOT NULL,
			component_version TEXT NOT NULL DEFAULT '',
			fixed_version TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			published_at DATETIME,
			modified_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_scan ON matches(scan_id);`,
		`CREATE TABLE IF NOT EXISTS definition_refreshes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveArtifact inserts a new artifact.
func (s *SQLiteStore) SaveArtifact(a *Artifact) error {
	query := `INSERT INTO artifacts (id, fingerprint, format, filename, content, component_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, a.ID, a.Fingerprint, a.Format, a.Filename, a.Content, a.ComponentCount, a.CreatedAt)
	return err
}

// GetArtifact retrieves an artifact by id.
func (s *SQLiteStore) GetArtifact(id string) (*Artifact, error) {
	return s.artifactRow(`SELECT id, fingerprint, format, filename, content, component_count, created_at
		FROM artifacts WHERE id = ?`, id)
}

// GetArtifactByFingerprint retrieves an artifact by content fingerprint.
func (s *SQLiteStore) GetArtifactByFingerprint(fingerprint string) (*Artifact, error) {
	return s.artifactRow(`SELECT id, fingerprint, format, filename, content, component_count, created_at
		FROM artifacts WHERE fingerprint = ?`, fingerprint)
}

func (s *SQLiteStore) artifactRow(query, arg string) (*Artifact, error) {
	var a Artifact
	err := s.db.QueryRow(query, arg).Scan(
		&a.ID, &a.Fingerprint, &a.Format, &a.Filename, &a.Content, &a.ComponentCount, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Kind: "artifact", ID: arg}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateScan inserts a queued scan unless the artifact already has an active one,
// in which case the existing scan is returned. The partial unique index makes the
// insert the single point of serialization.
func (s *SQLiteStore) CreateScan(scan *Scan) (*Scan, bool, error) {
	query := `INSERT INTO scans (id, artifact_id, state, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.Exec(query, scan.ID, scan.ArtifactID, ScanQueued, scan.CreatedAt)
	if err == nil {
		created := *scan
		created.State = ScanQueued
		return &created, true, nil
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		existing, lookupErr := s.activeScan(scan.ArtifactID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	return nil, false, err
}

func (s *SQLiteStore) activeScan(artifactID string) (*Scan, error) {
	return s.scanRow(`SELECT `+scanColumns+` FROM scans
		WHERE artifact_id = ? AND state IN ('queued', 'running')`, artifactID)
}

const scanColumns = `id, artifact_id, state, failure_reason, definition_version,
	critical_count, high_count, medium_count, low_count, unknown_count,
	vulnerable_count, total_components, risk_level,
	created_at, started_at, finished_at, duration_seconds`

func (s *SQLiteStore) scanRow(query string, args ...interface{}) (*Scan, error) {
	var sc Scan
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRow(query, args...).Scan(
		&sc.ID, &sc.ArtifactID, &sc.State, &sc.FailureReason, &sc.DefinitionVersion,
		&sc.Summary.Critical, &sc.Summary.High, &sc.Summary.Medium, &sc.Summary.Low, &sc.Summary.Unknown,
		&sc.Summary.VulnerableCount, &sc.Summary.TotalComponents, &sc.Summary.RiskLevel,
		&sc.CreatedAt, &startedAt, &finishedAt, &sc.DurationSeconds)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Kind: "scan", ID: fmt.Sprint(args...)}
	}
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		sc.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		sc.FinishedAt = &finishedAt.Time
	}
	return &sc, nil
}

// GetScan retrieves a scan by id.
func (s *SQLiteStore) GetScan(id string) (*Scan, error) {
	return s.scanRow(`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
}

// MarkScanRunning transitions a queued scan to running and pins the definition version.
func (s *SQLiteStore) MarkScanRunning(id string, startedAt time.Time, definitionVersion int64) error {
	res, err := s.db.Exec(`UPDATE scans SET state = ?, started_at = ?, definition_version = ?
		WHERE id = ? AND state = ?`, ScanRunning, startedAt, definitionVersion, id, ScanQueued)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanRunning)
}

// CompleteScan transitions a running scan to completed and records its summary.
func (s *SQLiteStore) CompleteScan(id string, summary Summary, finishedAt time.Time, durationSeconds int) error {
	res, err := s.db.Exec(`UPDATE scans SET state = ?, finished_at = ?, duration_seconds = ?,
		critical_count = ?, high_count = ?, medium_count = ?, low_count = ?, unknown_count = ?,
		vulnerable_count = ?, total_components = ?, risk_level = ?
		WHERE id = ? AND state = ?`,
		ScanCompleted, finishedAt, durationSeconds,
		summary.Critical, summary.High, summary.Medium, summary.Low, summary.Unknown,
		summary.VulnerableCount, summary.TotalComponents, summary.RiskLevel,
		id, ScanRunning)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanCompleted)
}

// FailScan transitions a queued or running scan to failed with a machine-readable reason.
func (s *SQLiteStore) FailScan(id string, reason string, finishedAt time.Time, durationSeconds int) error {
	res, err := s.db.Exec(`UPDATE scans SET state = ?, failure_reason = ?, finished_at = ?, duration_seconds = ?
		WHERE id = ? AND state IN ('queued', 'running')`,
		ScanFailed, reason, finishedAt, durationSeconds, id)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanFailed)
}

func requireTransition(res sql.Result, id, target string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scan %s: invalid transition to %s", id, target)
	}
	return nil
}

// LatestCompletedScan returns the most recent completed scan for an artifact.
func (s *SQLiteStore) LatestCompletedScan(artifactID string) (*Scan, error) {
	return s.scanRow(`SELECT `+scanColumns+` FROM scans
		WHERE artifact_id = ? AND state = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		artifactID, ScanCompleted)
}

// ReplaceMatches deletes any prior matches for the scan and inserts the new set
// in a single transaction.
func (s *SQLiteStore) ReplaceMatches(scanID string, matches []Match) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM matches WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to clear matches: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO matches
		(scan_id, vulnerability_id, severity, score, component_name, component_version,
		 fixed_version, description, published_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range matches {
		_, err := stmt.Exec(scanID, m.VulnerabilityID, m.Severity, m.Score,
			m.ComponentName, m.ComponentVersion, m.FixedVersion, m.Description,
			nullTime(m.PublishedAt), nullTime(m.ModifiedAt))
		if err != nil {
			return fmt.Errorf("failed to insert match %s: %w", m.VulnerabilityID, err)
		}
	}

	return tx.Commit()
}

// GetMatches returns all matches for a scan ordered by severity insert order.
func (s *SQLiteStore) GetMatches(scanID string) ([]Match, error) {
	rows, err := s.db.Query(`SELECT id, scan_id, vulnerability_id, severity, score,
		component_name, component_version, fixed_version, description, published_at, modified_at
		FROM matches WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Match
		var publishedAt, modifiedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ScanID, &m.VulnerabilityID, &m.Severity, &m.Score,
			&m.ComponentName, &m.ComponentVersion, &m.FixedVersion, &m.Description,
			&publishedAt, &modifiedAt); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			m.PublishedAt = &publishedAt.Time
		}
		if modifiedAt.Valid {
			m.ModifiedAt = &modifiedAt.Time
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// BeginRefresh records the start of a definition refresh cycle.
func (s *SQLiteStore) BeginRefresh(startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO definition_refreshes (status, started_at) VALUES (?, ?)`,
		ScanRunning, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRefresh records the outcome of a refresh cycle.
func (s *SQLiteStore) FinishRefresh(id int64, status string, version int64, finishedAt time.Time, durationSeconds int, errMsg string) error {
	_, err := s.db.Exec(`UPDATE definition_refreshes
		SET status = ?, version = ?, finished_at = ?, duration_seconds = ?, error = ?
		WHERE id = ?`, status, version, finishedAt, durationSeconds, errMsg, id)
	return err
}

// LastSuccessfulRefresh returns the most recent completed refresh, or ErrNotFound.
func (s *SQLiteStore) LastSuccessfulRefresh() (*RefreshRecord, error) {
	var r RefreshRecord
	var finishedAt sql.NullTime
	err := s.db.QueryRow(`SELECT id, version, status, error, started_at, finished_at, duration_seconds
		FROM definition_refreshes WHERE status = ? ORDER BY id DESC LIMIT 1`, ScanCompleted).Scan(
		&r.ID, &r.Version, &r.Status, &r.Error, &r.StartedAt, &finishedAt, &r.DurationSeconds)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Kind: "refresh", ID: "latest"}
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return &r, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

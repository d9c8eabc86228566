package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store and applies migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			format TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			content BYTEA NOT NULL,
			component_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			artifact_id TEXT NOT NULL REFERENCES artifacts(id),
			state TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			definition_version BIGINT NOT NULL DEFAULT 0,
			critical_count INTEGER NOT NULL DEFAULT 0,
			high_count INTEGER NOT NULL DEFAULT 0,
			medium_count INTEGER NOT NULL DEFAULT 0,
			low_count INTEGER NOT NULL DEFAULT 0,
			unknown_count INTEGER NOT NULL DEFAULT 0,
			vulnerable_count INTEGER NOT NULL DEFAULT 0,
			total_components INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_one_active
			ON scans(artifact_id) WHERE state IN ('queued', 'running');`,
		`CREATE INDEX IF NOT EXISTS idx_scans_artifact_created ON scans(artifact_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			scan_id TEXT NOT NULL REFERENCES scans(id),
			vulnerability_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			component_name TEXT NOT NULL,
			component_version TEXT NOT NULL DEFAULT '',
			fixed_version TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMP,
			modified_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_scan ON matches(scan_id);`,
		`CREATE TABLE IF NOT EXISTS definition_refreshes (
			id BIGSERIAL PRIMARY KEY,
			version BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveArtifact inserts a new artifact.
func (s *PostgresStore) SaveArtifact(a *Artifact) error {
	query := `INSERT INTO artifacts (id, fingerprint, format, filename, content, component_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(query, a.ID, a.Fingerprint, a.Format, a.Filename, a.Content, a.ComponentCount, a.CreatedAt)
	return err
}

// GetArtifact retrieves an artifact by id.
func (s *PostgresStore) GetArtifact(id string) (*Artifact, error) {
	return s.artifactRow(`SELECT id, fingerprint, format, filename, content, component_count, created_at
		FROM artifacts WHERE id = $1`, id)
}

// GetArtifactByFingerprint retrieves an artifact by content fingerprint.
func (s *PostgresStore) GetArtifactByFingerprint(fingerprint string) (*Artifact, error) {
	return s.artifactRow(`SELECT id, fingerprint, format, filename, content, component_count, created_at
		FROM artifacts WHERE fingerprint = $1`, fingerprint)
}

func (s *PostgresStore) artifactRow(query, arg string) (*Artifact, error) {
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

// CreateScan inserts a queued scan unless the artifact already has an active one.
// The partial unique index rejects a second active scan; on that conflict the
// existing active scan is returned instead.
func (s *PostgresStore) CreateScan(scan *Scan) (*Scan, bool, error) {
	query := `INSERT INTO scans (id, artifact_id, state, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.Exec(query, scan.ID, scan.ArtifactID, ScanQueued, scan.CreatedAt)
	if err == nil {
		created := *scan
		created.State = ScanQueued
		return &created, true, nil
	}

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		existing, lookupErr := s.scanRow(`SELECT `+pgScanColumns+` FROM scans
			WHERE artifact_id = $1 AND state IN ('queued', 'running')`, scan.ArtifactID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	return nil, false, err
}

const pgScanColumns = `id, artifact_id, state, failure_reason, definition_version,
	critical_count, high_count, medium_count, low_count, unknown_count,
	vulnerable_count, total_components, risk_level,
	created_at, started_at, finished_at, duration_seconds`

func (s *PostgresStore) scanRow(query string, args ...interface{}) (*Scan, error) {
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
func (s *PostgresStore) GetScan(id string) (*Scan, error) {
	return s.scanRow(`SELECT `+pgScanColumns+` FROM scans WHERE id = $1`, id)
}

// MarkScanRunning transitions a queued scan to running and pins the definition version.
func (s *PostgresStore) MarkScanRunning(id string, startedAt time.Time, definitionVersion int64) error {
	res, err := s.db.Exec(`UPDATE scans SET state = $1, started_at = $2, definition_version = $3
		WHERE id = $4 AND state = $5`, ScanRunning, startedAt, definitionVersion, id, ScanQueued)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanRunning)
}

// CompleteScan transitions a running scan to completed and records its summary.
func (s *PostgresStore) CompleteScan(id string, summary Summary, finishedAt time.Time, durationSeconds int) error {
	res, err := s.db.Exec(`UPDATE scans SET state = $1, finished_at = $2, duration_seconds = $3,
		critical_count = $4, high_count = $5, medium_count = $6, low_count = $7, unknown_count = $8,
		vulnerable_count = $9, total_components = $10, risk_level = $11
		WHERE id = $12 AND state = $13`,
		ScanCompleted, finishedAt, durationSeconds,
		summary.Critical, summary.High, summary.Medium, summary.Low, summary.Unknown,
		summary.VulnerableCount, summary.TotalComponents, summary.RiskLevel,
		id, ScanRunning)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanCompleted)
}

// FailScan transitions a queued or running scan to failed.
func (s *PostgresStore) FailScan(id string, reason string, finishedAt time.Time, durationSeconds int) error {
	res, err := s.db.Exec(`UPDATE scans SET state = $1, failure_reason = $2, finished_at = $3, duration_seconds = $4
		WHERE id = $5 AND state IN ('queued', 'running')`,
		ScanFailed, reason, finishedAt, durationSeconds, id)
	if err != nil {
		return err
	}
	return requireTransition(res, id, ScanFailed)
}

// LatestCompletedScan returns the most recent completed scan for an artifact.
func (s *PostgresStore) LatestCompletedScan(artifactID string) (*Scan, error) {
	return s.scanRow(`SELECT `+pgScanColumns+` FROM scans
		WHERE artifact_id = $1 AND state = $2 ORDER BY created_at DESC, id DESC LIMIT 1`,
		artifactID, ScanCompleted)
}

// ReplaceMatches deletes prior matches for the scan and inserts the new set transactionally.
func (s *PostgresStore) ReplaceMatches(scanID string, matches []Match) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM matches WHERE scan_id = $1`, scanID); err != nil {
		return fmt.Errorf("failed to clear matches: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO matches
		(scan_id, vulnerability_id, severity, score, component_name, component_version,
		 fixed_version, description, published_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
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

// GetMatches returns all matches for a scan.
func (s *PostgresStore) GetMatches(scanID string) ([]Match, error) {
	rows, err := s.db.Query(`SELECT id, scan_id, vulnerability_id, severity, score,
		component_name, component_version, fixed_version, description, published_at, modified_at
		FROM matches WHERE scan_id = $1 ORDER BY id`, scanID)
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
func (s *PostgresStore) BeginRefresh(startedAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(`INSERT INTO definition_refreshes (status, started_at) VALUES ($1, $2) RETURNING id`,
		ScanRunning, startedAt).Scan(&id)
	return id, err
}

// FinishRefresh records the outcome of a refresh cycle.
func (s *PostgresStore) FinishRefresh(id int64, status string, version int64, finishedAt time.Time, durationSeconds int, errMsg string) error {
	_, err := s.db.Exec(`UPDATE definition_refreshes
		SET status = $1, version = $2, finished_at = $3, duration_seconds = $4, error = $5
		WHERE id = $6`, status, version, finishedAt, durationSeconds, errMsg, id)
	return err
}

// LastSuccessfulRefresh returns the most recent completed refresh, or ErrNotFound.
func (s *PostgresStore) LastSuccessfulRefresh() (*RefreshRecord, error) {
	var r RefreshRecord
	var finishedAt sql.NullTime
	err := s.db.QueryRow(`SELECT id, version, status, error, started_at, finished_at, duration_seconds
		FROM definition_refreshes WHERE status = $1 ORDER BY id DESC LIMIT 1`, ScanCompleted).Scan(
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

// Package engine is the scan orchestration core: admission of scan and refresh
// jobs, the bounded worker pool that executes them, and the external interface
// consumed by the CLI and API layers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sbomscan/internal/db"
	"sbomscan/internal/definitions"
	"sbomscan/internal/metrics"
	"sbomscan/internal/notify"
	"sbomscan/internal/scanner"
	"sbomscan/internal/sbom"
)

// Job kinds sharing the worker pool.
const (
	jobScan    = "scan"
	jobRefresh = "refresh"
)

type job struct {
	kind      string
	scanID    string
	refreshID int64
	attempt   int
}

// Config controls pool sizing, timeouts and the retry policy.
type Config struct {
	Workers        int
	QueueSize      int
	ScanTimeout    time.Duration
	RefreshTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		ScanTimeout:    5 * time.Minute,
		RefreshTimeout: 10 * time.Minute,
		MaxAttempts:    3,
		RetryBackoff:   2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = def.ScanTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = def.RefreshTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
}

// Engine owns the job queue and worker pool.
type Engine struct {
	store    db.Store
	adapter  scanner.Adapter
	defs     *definitions.Store
	metrics  *metrics.Metrics
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config

	jobs chan job
	wg   sync.WaitGroup

	mu              sync.Mutex
	activeRefreshID int64
	nextRefreshAt   time.Time
}

// New creates an Engine. The notifier may be nil. Definition state is restored
// from the last persisted successful refresh.
func New(store db.Store, adapter scanner.Adapter, defs *definitions.Store, m *metrics.Metrics, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Engine {
	cfg.applyDefaults()

	if rec, err := store.LastSuccessfulRefresh(); err == nil && rec.FinishedAt != nil {
		defs.Restore(rec.Version, *rec.FinishedAt, time.Duration(rec.DurationSeconds)*time.Second)
		m.DefinitionVersion.Set(float64(rec.Version))
	}

	return &Engine{
		store:    store,
		adapter:  adapter,
		defs:     defs,
		metrics:  m,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		jobs:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting worker pool", "workers", e.cfg.Workers, "queue_size", e.cfg.QueueSize)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) enqueue(j job) error {
	select {
	case e.jobs <- j:
		e.metrics.QueueDepth.Inc()
		return nil
	default:
		return fmt.Errorf("job queue is full (%d jobs)", e.cfg.QueueSize)
	}
}

// SubmitResult describes the outcome of an artifact upload.
type SubmitResult struct {
	ArtifactID  string `json:"artifact_id"`
	Fingerprint string `json:"fingerprint"`
	IsDuplicate bool   `json:"is_duplicate"`
	ScanID      string `json:"scan_id,omitempty"`
}

// SubmitArtifact parses and fingerprints an upload, deduplicates it against
// existing artifacts and, when new, queues a scan. Parse and format errors are
// returned synchronously; no job is created for rejected input.
func (e *Engine) SubmitArtifact(raw []byte, declaredFormat, filename string) (*SubmitResult, error) {
	doc, err := sbom.Parse(raw, declaredFormat)
	if err != nil {
		return nil, err
	}
	fingerprint := sbom.Fingerprint(doc)

	if existing, err := e.store.GetArtifactByFingerprint(fingerprint); err == nil {
		e.metrics.ArtifactDuplicates.Inc()
		e.logger.Info("duplicate artifact upload", "artifact", existing.ID, "fingerprint", fingerprint)
		return &SubmitResult{ArtifactID: existing.ID, Fingerprint: fingerprint, IsDuplicate: true}, nil
	}

	artifact := &db.Artifact{
		ID:             uuid.NewString(),
		Fingerprint:    fingerprint,
		Format:         string(doc.Format),
		Filename:       filename,
		Content:        raw,
		ComponentCount: len(doc.Components),
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.SaveArtifact(artifact); err != nil {
		// A concurrent upload of the same content may have won the insert race.
		if existing, lookupErr := e.store.GetArtifactByFingerprint(fingerprint); lookupErr == nil {
			e.metrics.ArtifactDuplicates.Inc()
			return &SubmitResult{ArtifactID: existing.ID, Fingerprint: fingerprint, IsDuplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}
	e.metrics.ArtifactsIngested.Inc()
	e.logger.Info("artifact accepted",
		"artifact", artifact.ID, "format", artifact.Format, "components", artifact.ComponentCount)

	scan, _, err := e.SubmitScan(artifact.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{ArtifactID: artifact.ID, Fingerprint: fingerprint, ScanID: scan.ID}, nil
}

// SubmitScan queues a scan for the artifact. Idempotent: if the artifact
// already has a queued or running scan, that scan is returned and no new one is
// created. The bool reports whether this call created the scan.
func (e *Engine) SubmitScan(artifactID string) (*db.Scan, bool, error) {
	if _, err := e.store.GetArtifact(artifactID); err != nil {
		return nil, false, err
	}

	scan := &db.Scan{
		ID:         uuid.NewString(),
		ArtifactID: artifactID,
		State:      db.ScanQueued,
		CreatedAt:  time.Now().UTC(),
	}
	created, isNew, err := e.store.CreateScan(scan)
	if err != nil {
		return nil, false, fmt.Errorf("failed to admit scan: %w", err)
	}
	if !isNew {
		return created, false, nil
	}

	if err := e.enqueue(job{kind: jobScan, scanID: created.ID}); err != nil {
		now := time.Now().UTC()
		_ = e.store.FailScan(created.ID, db.ReasonInternal, now, 0)
		return nil, false, err
	}
	e.logger.Info("scan queued", "scan", created.ID, "artifact", artifactID)
	return created, true, nil
}

// GetScan returns a scan and, for terminal scans, its matches.
func (e *Engine) GetScan(scanID string) (*db.Scan, []db.Match, error) {
	scan, err := e.store.GetScan(scanID)
	if err != nil {
		return nil, nil, err
	}
	if scan.Active() {
		return scan, nil, nil
	}
	matches, err := e.store.GetMatches(scanID)
	if err != nil {
		return nil, nil, err
	}
	return scan, matches, nil
}

// GetSummary returns the summary of the latest completed scan for an artifact.
func (e *Engine) GetSummary(artifactID string) (*db.Summary, error) {
	scan, err := e.store.LatestCompletedScan(artifactID)
	if err != nil {
		return nil, err
	}
	summary := scan.Summary
	return &summary, nil
}

// TriggerRefresh queues a definition refresh. Idempotent: if a refresh is
// already queued or running, its id is returned and no new cycle starts.
func (e *Engine) TriggerRefresh() (int64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeRefreshID != 0 {
		return e.activeRefreshID, false, nil
	}

	id, err := e.store.BeginRefresh(time.Now().UTC())
	if err != nil {
		return 0, false, fmt.Errorf("failed to record refresh: %w", err)
	}
	if err := e.enqueue(job{kind: jobRefresh, refreshID: id}); err != nil {
		now := time.Now().UTC()
		_ = e.store.FinishRefresh(id, db.ScanFailed, e.defs.Version(), now, 0, err.Error())
		return 0, false, err
	}
	e.activeRefreshID = id
	e.logger.Info("definition refresh queued", "refresh", id)
	return id, true, nil
}

func (e *Engine) clearActiveRefresh() {
	e.mu.Lock()
	e.activeRefreshID = 0
	e.mu.Unlock()
}

// SetNextRefresh records when the scheduler will next trigger a refresh.
func (e *Engine) SetNextRefresh(t time.Time) {
	e.mu.Lock()
	e.nextRefreshAt = t
	e.mu.Unlock()
}

// RefreshStatus is the observable state of the definition corpus.
type RefreshStatus struct {
	CurrentState  string        `json:"current_state"` // idle | queued | refreshing
	Version       int64         `json:"version"`
	LastSuccess   *time.Time    `json:"last_success,omitempty"`
	LastDuration  time.Duration `json:"last_duration"`
	NextScheduled *time.Time    `json:"next_scheduled,omitempty"`
}

// GetRefreshStatus reports the active definition version and refresh state.
func (e *Engine) GetRefreshStatus() RefreshStatus {
	snap := e.defs.Current()
	status := RefreshStatus{
		CurrentState: definitions.StatusIdle,
		Version:      snap.Version,
		LastDuration: snap.Duration,
	}
	if !snap.RefreshedAt.IsZero() {
		t := snap.RefreshedAt
		status.LastSuccess = &t
	}

	e.mu.Lock()
	queued := e.activeRefreshID != 0
	if !e.nextRefreshAt.IsZero() {
		t := e.nextRefreshAt
		status.NextScheduled = &t
	}
	e.mu.Unlock()

	switch {
	case e.defs.Status() == definitions.StatusRefreshing:
		status.CurrentState = definitions.StatusRefreshing
	case queued:
		status.CurrentState = "queued"
	}
	return status
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sbomscan/internal/aggregate"
	"sbomscan/internal/db"
	"sbomscan/internal/notify"
	"sbomscan/internal/scanner"
)

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.metrics.QueueDepth.Dec()
			e.metrics.WorkersBusy.Inc()
			e.execute(ctx, j)
			e.metrics.WorkersBusy.Dec()
		}
	}
}

// execute runs one job to a terminal state. A panic inside a job is recorded on
// that job alone; it never takes down the pool.
func (e *Engine) execute(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job panicked", "kind", j.kind, "scan", j.scanID, "panic", r)
			now := time.Now().UTC()
			switch j.kind {
			case jobScan:
				_ = e.store.FailScan(j.scanID, db.ReasonInternal, now, 0)
			case jobRefresh:
				_ = e.store.FinishRefresh(j.refreshID, db.ScanFailed, e.defs.Version(), now, 0, fmt.Sprint(r))
				e.defs.EndRefresh()
				e.clearActiveRefresh()
			}
			e.metrics.JobsFailed.WithLabelValues(j.kind, db.ReasonInternal).Inc()
		}
	}()

	switch j.kind {
	case jobScan:
		e.runScan(ctx, j)
	case jobRefresh:
		e.runRefresh(ctx, j)
	}
}

func (e *Engine) runScan(ctx context.Context, j job) {
	scan, err := e.store.GetScan(j.scanID)
	if err != nil {
		e.logger.Error("scan job references unknown scan", "scan", j.scanID, "error", err)
		return
	}
	if !scan.Active() {
		// Already terminal; nothing to do.
		return
	}

	artifact, err := e.store.GetArtifact(scan.ArtifactID)
	if err != nil {
		e.failScan(scan, db.ReasonInternal, time.Now().UTC())
		return
	}

	// First attempt transitions queued -> running and pins the definition
	// version; retries keep the pinned version for reproducibility.
	if scan.State == db.ScanQueued {
		pinned := e.defs.Version()
		startedAt := time.Now().UTC()
		if err := e.store.MarkScanRunning(scan.ID, startedAt, pinned); err != nil {
			e.logger.Error("failed to mark scan running", "scan", scan.ID, "error", err)
			e.failScan(scan, db.ReasonInternal, time.Now().UTC())
			return
		}
		scan.State = db.ScanRunning
		scan.StartedAt = &startedAt
		scan.DefinitionVersion = pinned
	}

	e.logger.Info("scan started",
		"scan", scan.ID, "artifact", artifact.ID, "attempt", j.attempt+1,
		"definition_version", scan.DefinitionVersion)

	scanCtx, cancel := context.WithTimeout(ctx, e.cfg.ScanTimeout)
	matches, scanErr := e.adapter.Scan(scanCtx, artifact, scan.DefinitionVersion)
	cancel()

	finishedAt := time.Now().UTC()

	switch {
	case scanErr == nil:
		summary, err := aggregate.Aggregate(e.store, scan.ID, artifact.ComponentCount, matches)
		if err != nil {
			e.logger.Error("failed to aggregate results", "scan", scan.ID, "error", err)
			e.failScan(scan, db.ReasonInternal, finishedAt)
			return
		}
		duration := e.scanDuration(scan, finishedAt)
		if err := e.store.CompleteScan(scan.ID, summary, finishedAt, duration); err != nil {
			e.logger.Error("failed to complete scan", "scan", scan.ID, "error", err)
			return
		}
		e.metrics.JobsCompleted.WithLabelValues(jobScan).Inc()
		e.metrics.JobDuration.WithLabelValues(jobScan).Observe(float64(duration))
		e.logger.Info("scan completed",
			"scan", scan.ID, "matches", len(matches), "risk_level", summary.RiskLevel,
			"duration_seconds", duration)
		e.sendEvent(ctx, notify.EventScanCompleted,
			fmt.Sprintf("Scan %s completed: risk %s (%d critical, %d high, %d medium, %d low)",
				scan.ID, summary.RiskLevel, summary.Critical, summary.High, summary.Medium, summary.Low))

	case errors.Is(scanErr, context.DeadlineExceeded):
		e.logger.Warn("scan timed out", "scan", scan.ID, "timeout", e.cfg.ScanTimeout)
		e.failScan(scan, db.ReasonTimeout, finishedAt)

	case scanner.IsTransient(scanErr):
		if j.attempt+1 < e.cfg.MaxAttempts {
			e.scheduleRetry(j, scanErr)
			return
		}
		e.logger.Error("scan failed after exhausting retries",
			"scan", scan.ID, "attempts", j.attempt+1, "error", scanErr)
		e.failScan(scan, db.ReasonToolInvocation, finishedAt)

	default:
		reason := db.ReasonInternal
		var execErr *scanner.ExecutionError
		if errors.As(scanErr, &execErr) {
			reason = db.ReasonToolExecution
		}
		e.logger.Error("scan failed", "scan", scan.ID, "reason", reason, "error", scanErr)
		e.failScan(scan, reason, finishedAt)
	}
}

func (e *Engine) failScan(scan *db.Scan, reason string, finishedAt time.Time) {
	duration := e.scanDuration(scan, finishedAt)
	if err := e.store.FailScan(scan.ID, reason, finishedAt, duration); err != nil {
		e.logger.Error("failed to record scan failure", "scan", scan.ID, "error", err)
		return
	}
	e.metrics.JobsFailed.WithLabelValues(jobScan, reason).Inc()
	e.sendEvent(context.Background(), notify.EventScanFailed,
		fmt.Sprintf("Scan %s failed: %s", scan.ID, reason))
}

func (e *Engine) scanDuration(scan *db.Scan, finishedAt time.Time) int {
	if scan.StartedAt == nil {
		return 0
	}
	return int(finishedAt.Sub(*scan.StartedAt).Seconds())
}

// scheduleRetry re-enqueues the job after an exponential backoff delay. The
// worker is freed immediately; the scan row stays in running state.
func (e *Engine) scheduleRetry(j job, cause error) {
	delay := e.cfg.RetryBackoff << j.attempt
	next := job{kind: j.kind, scanID: j.scanID, refreshID: j.refreshID, attempt: j.attempt + 1}
	e.metrics.JobRetries.WithLabelValues(j.kind).Inc()
	e.logger.Warn("transient scan failure, retry scheduled",
		"scan", j.scanID, "attempt", j.attempt+1, "delay", delay, "error", cause)

	time.AfterFunc(delay, func() {
		if err := e.enqueue(next); err != nil {
			e.logger.Error("failed to requeue scan", "scan", next.scanID, "error", err)
			now := time.Now().UTC()
			_ = e.store.FailScan(next.scanID, db.ReasonInternal, now, 0)
		}
	})
}

func (e *Engine) runRefresh(ctx context.Context, j job) {
	defer e.clearActiveRefresh()

	if !e.defs.BeginRefresh() {
		// Admission dedup should make this impossible; record and move on.
		e.logger.Error("refresh already in flight, dropping job", "refresh", j.refreshID)
		return
	}
	defer e.defs.EndRefresh()

	startedAt := time.Now().UTC()
	e.logger.Info("definition refresh started", "refresh", j.refreshID)

	refreshCtx, cancel := context.WithTimeout(ctx, e.cfg.RefreshTimeout)
	err := e.adapter.UpdateDatabase(refreshCtx)
	cancel()

	finishedAt := time.Now().UTC()
	duration := int(finishedAt.Sub(startedAt).Seconds())

	if err != nil {
		reason := db.ReasonRefreshDownload
		if errors.Is(err, context.DeadlineExceeded) {
			reason = db.ReasonTimeout
		}
		// The previous version stays active; the next scheduled cycle proceeds.
		if dbErr := e.store.FinishRefresh(j.refreshID, db.ScanFailed, e.defs.Version(), finishedAt, duration, err.Error()); dbErr != nil {
			e.logger.Error("failed to record refresh failure", "refresh", j.refreshID, "error", dbErr)
		}
		e.metrics.JobsFailed.WithLabelValues(jobRefresh, reason).Inc()
		e.logger.Error("definition refresh failed",
			"refresh", j.refreshID, "reason", reason, "error", err)
		e.sendEvent(ctx, notify.EventRefreshFailed,
			fmt.Sprintf("Definition refresh failed: %v (version %d remains active)", err, e.defs.Version()))
		return
	}

	snap := e.defs.Advance(finishedAt, finishedAt.Sub(startedAt))
	if dbErr := e.store.FinishRefresh(j.refreshID, db.ScanCompleted, snap.Version, finishedAt, duration, ""); dbErr != nil {
		e.logger.Error("failed to record refresh success", "refresh", j.refreshID, "error", dbErr)
	}
	e.metrics.JobsCompleted.WithLabelValues(jobRefresh).Inc()
	e.metrics.JobDuration.WithLabelValues(jobRefresh).Observe(float64(duration))
	e.metrics.DefinitionVersion.Set(float64(snap.Version))
	e.logger.Info("definition refresh completed",
		"refresh", j.refreshID, "version", snap.Version, "duration_seconds", duration)
}

func (e *Engine) sendEvent(ctx context.Context, eventType, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, eventType, message); err != nil {
		e.logger.Debug("notification delivery failed", "event", eventType, "error", err)
	}
}

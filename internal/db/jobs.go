package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ClaimPendingJobs atomically moves up to k pending jobs to
// in_progress and returns them. SKIP LOCKED guarantees no job is
// claimed by more than one worker.
func (s *Store) ClaimPendingJobs(ctx context.Context, k int) ([]EmbeddingJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var jobs []EmbeddingJob
	err = tx.SelectContext(ctx, &jobs, `
		SELECT id, position_id, fen, status, attempts, enqueued_at
		FROM embedding_jobs
		WHERE status = 'pending'
		ORDER BY enqueued_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, k)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'in_progress', started_at = now(), attempts = attempts + 1
		WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark jobs in_progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	for i := range jobs {
		jobs[i].Status = JobInProgress
		jobs[i].Attempts++
	}
	return jobs, nil
}

// CompleteJob records a successful embedding: the position gets its
// vector_id and the job becomes completed, in one transaction.
func (s *Store) CompleteJob(ctx context.Context, jobID, positionID int64, vectorID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE positions SET vector_id = $1 WHERE id = $2", vectorID, positionID); err != nil {
		return fmt.Errorf("set vector_id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'completed', completed_at = now(), last_error = NULL
		WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return tx.Commit()
}

// FailJob marks a job failed with a sanitised error message. The
// caller is responsible for sanitising.
func (s *Store) FailJob(ctx context.Context, jobID int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'failed', completed_at = now(), last_error = $1
		WHERE id = $2`, lastError, jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// PendingJobCount reports queue depth; the ingest path uses it for the
// queue-pressure guard.
func (s *Store) PendingJobCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n,
		"SELECT count(*) FROM embedding_jobs WHERE status = 'pending'"); err != nil {
		return 0, fmt.Errorf("pending job count: %w", err)
	}
	return n, nil
}

// ReactivateStalledJobs flips in_progress rows older than the grace
// period back to pending. Jobs are idempotent (content-hash point
// ids), so re-running a half-done job is safe.
func (s *Store) ReactivateStalledJobs(ctx context.Context, grace time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'in_progress' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(grace.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reactivate stalled jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Reactivated stalled embedding jobs", zap.Int64("count", n))
	}
	return n, nil
}

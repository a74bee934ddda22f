// Package queue is the durable, priority-ordered job store: Postgres FOR
// UPDATE SKIP LOCKED gives safe concurrent dequeue across
// worker processes without an external lock manager. A Pub/Sub wake-up
// marker per priority cuts poll latency, but Postgres remains the source of
// truth — duplicate or out-of-order Pub/Sub delivery is harmless.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/model"
)

// Publisher abstracts the Pub/Sub wake-up push. A nil Publisher disables
// it — workers still make progress via the fallback poll ticker.
type Publisher interface {
	Publish(ctx context.Context, priority model.Priority, jobID string) error
}

// Queue is the Postgres-backed durable job store.
type Queue struct {
	pool      *pgxpool.Pool
	publisher Publisher
}

// New creates a Queue. publisher may be nil.
func New(pool *pgxpool.Pool, publisher Publisher) *Queue {
	return &Queue{pool: pool, publisher: publisher}
}

// Enqueue inserts a new job and pushes a Pub/Sub wake-up marker. A job with
// no scenario (or an inadmissible one) is rejected before it ever reaches
// Postgres.
func (q *Queue) Enqueue(ctx context.Context, job model.Job) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if !job.Valid() {
		return apperr.FatalBadJob("job is missing a required field or carries no scenario")
	}

	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, user_id, chat_id, source_message_id, progress_msg_id,
			blob_key, tier, scenario, preserve_exif, perceptual_hash, priority, status, attempts, run_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', 0, $12, $12)
	`, job.JobID, job.UserID, job.ChatID, job.SourceMessageID, job.ProgressMsgID,
		job.BlobKey, job.Tier, job.Scenario, job.PreserveEXIF, job.PerceptualHash, job.Priority, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("queue.Enqueue: %w", err)
	}

	if q.publisher != nil {
		if err := q.publisher.Publish(ctx, job.Priority, job.JobID); err != nil {
			// Wake-up push is latency-only; Postgres already has the row.
			return nil
		}
	}
	return nil
}

// Dequeue claims the single highest-priority, oldest eligible pending job
// using FOR UPDATE SKIP LOCKED so concurrent worker processes never double
// -claim a row. Returns (nil, nil) if no job is eligible.
func (q *Queue) Dequeue(ctx context.Context) (*model.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue.Dequeue: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT job_id, user_id, chat_id, source_message_id, progress_msg_id,
			blob_key, tier, scenario, preserve_exif, perceptual_hash, priority, attempts, created_at
		FROM jobs
		WHERE status = 'pending' AND run_after <= now()
		ORDER BY
			CASE priority WHEN 'high' THEN 0 WHEN 'default' THEN 1 ELSE 2 END,
			created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)

	var j model.Job
	err = row.Scan(&j.JobID, &j.UserID, &j.ChatID, &j.SourceMessageID, &j.ProgressMsgID,
		&j.BlobKey, &j.Tier, &j.Scenario, &j.PreserveEXIF, &j.PerceptualHash, &j.Priority, &j.Attempts, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue.Dequeue: scan: %w", err)
	}

	leasedUntil := time.Now().UTC().Add(model.JobTimeout)
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'leased', attempts = attempts + 1, leased_until = $2
		WHERE job_id = $1
	`, j.JobID, leasedUntil); err != nil {
		return nil, fmt.Errorf("queue.Dequeue: lease: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue.Dequeue: commit: %w", err)
	}

	j.Attempts++
	return &j, nil
}

// Complete marks a job done. Done rows are not removed afterwards: no
// result-retention sweep exists in this repository.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.pool.Exec(ctx, `UPDATE jobs SET status = 'done' WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("queue.Complete: %w", err)
	}
	return nil
}

// Fail records a failed attempt. If attempts remain under the retry policy's
// max (3), the job is rescheduled with the next backoff delay from
// model.JobRetryBackoff; otherwise it moves to the failure zone
// ('dead_letter'). No retention sweep exists in this repository, so
// dead-lettered rows are kept until removed by hand.
func (q *Queue) Fail(ctx context.Context, job model.Job, causeErr error) error {
	if job.Attempts >= model.JobMaxAttempts {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs SET status = 'dead_letter', last_error = $2 WHERE job_id = $1
		`, job.JobID, causeErr.Error())
		if err != nil {
			return fmt.Errorf("queue.Fail: dead-letter: %w", err)
		}
		return nil
	}

	backoff := model.JobRetryBackoff[job.Attempts-1]
	runAfter := time.Now().UTC().Add(backoff)
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', run_after = $2, last_error = $3 WHERE job_id = $1
	`, job.JobID, runAfter, causeErr.Error())
	if err != nil {
		return fmt.Errorf("queue.Fail: reschedule: %w", err)
	}
	return nil
}

// FailFatal moves a malformed or unrecoverable job straight to dead-letter
// with no retry.
func (q *Queue) FailFatal(ctx context.Context, jobID string, reason string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'dead_letter', last_error = $2 WHERE job_id = $1
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("queue.FailFatal: %w", err)
	}
	return nil
}

// DeadLetter lists dead-lettered and failed jobs for the ops-console
// reconciliation surface.
func (q *Queue) DeadLetter(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.pool.Query(ctx, `
		SELECT job_id, user_id, chat_id, source_message_id, progress_msg_id,
			blob_key, tier, scenario, preserve_exif, perceptual_hash, priority, attempts, created_at
		FROM jobs WHERE status = 'dead_letter' ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("queue.DeadLetter: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.JobID, &j.UserID, &j.ChatID, &j.SourceMessageID, &j.ProgressMsgID,
			&j.BlobKey, &j.Tier, &j.Scenario, &j.PreserveEXIF, &j.PerceptualHash, &j.Priority, &j.Attempts, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("queue.DeadLetter: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ReclaimExpiredLeases resets jobs whose worker lease expired without
// completion back to pending, so a crashed worker's job is retried by
// another instance. Callers run this on an interval, grounded on the
// teacher's cleanup-ticker pattern in middleware/ratelimit.go.
func (q *Queue) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending'
		WHERE status = 'leased' AND leased_until < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("queue.ReclaimExpiredLeases: %w", err)
	}
	return tag.RowsAffected(), nil
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/models"
)

type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const jobColumns = `id, type, priority, payload, status, retry_count, max_retries,
	next_retry_at, parent_job_id, depends_on, dedupe_key,
	progress_current, progress_total, progress_message, error,
	created_at, started_at, completed_at, updated_at`

func scanJob(row interface{ Scan(dest ...interface{}) error }) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(
		&j.ID, &j.Type, &j.Priority, &j.Payload, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.NextRetryAt, &j.ParentJobID, &j.DependsOn, &j.DedupeKey,
		&j.ProgressCurrent, &j.ProgressTotal, &j.ProgressMessage, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	return j, err
}

// Enqueue inserts a pending job. Jobs carrying a dedupe key silently coalesce
// with an identical pending or processing job; the existing job's id is
// returned in that case.
func (r *QueueRepository) Enqueue(job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Payload == nil {
		job.Payload = []byte(`{}`)
	}
	query := `INSERT INTO jobs (id, type, priority, payload, status, max_retries, parent_job_id, depends_on, dedupe_key)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL AND status IN ('pending', 'processing') DO NOTHING
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(query,
		job.ID, job.Type, job.Priority, []byte(job.Payload), job.MaxRetries,
		job.ParentJobID, pq.Array(orEmpty(job.DependsOn)), job.DedupeKey,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		// Coalesced: surface the surviving job's id.
		return r.db.QueryRow(`SELECT id, created_at, updated_at FROM jobs
			WHERE dedupe_key = $1 AND status IN ('pending', 'processing')`, job.DedupeKey).
			Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	}
	return err
}

// dependsSatisfied filters out jobs having any dependency that is known and
// not completed, in either the active table or history.
const dependsSatisfied = `NOT EXISTS (
	SELECT 1 FROM unnest(j.depends_on) AS dep(dep_id)
	WHERE EXISTS (SELECT 1 FROM jobs b WHERE b.id::text = dep.dep_id AND b.status <> 'completed')
	   OR EXISTS (SELECT 1 FROM job_history h WHERE h.id::text = dep.dep_id AND h.status <> 'completed')
)`

// ClaimNext atomically picks the highest-priority runnable job and marks it
// processing. SKIP LOCKED keeps concurrent pollers from double-claiming.
func (r *QueueRepository) ClaimNext() (*models.Job, error) {
	query := `UPDATE jobs SET status = 'processing', started_at = NOW(), updated_at = NOW()
	WHERE id = (
		SELECT j.id FROM jobs j
		WHERE j.status = 'pending'
		  AND (j.next_retry_at IS NULL OR j.next_retry_at <= NOW())
		  AND ` + dependsSatisfied + `
		ORDER BY j.priority, j.created_at, j.id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// FailBrokenDependents terminally fails pending jobs whose dependencies ended
// failed or cancelled; they can never become runnable.
func (r *QueueRepository) FailBrokenDependents() (int64, error) {
	res, err := r.db.Exec(`UPDATE jobs j SET status = 'failed',
		error = 'dependency failed', completed_at = NOW(), updated_at = NOW()
	WHERE j.status = 'pending' AND EXISTS (
		SELECT 1 FROM unnest(j.depends_on) AS dep(dep_id)
		WHERE EXISTS (SELECT 1 FROM jobs b WHERE b.id::text = dep.dep_id AND b.status IN ('failed', 'cancelled'))
		   OR EXISTS (SELECT 1 FROM job_history h WHERE h.id::text = dep.dep_id AND h.status IN ('failed', 'cancelled'))
	)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueRepository) GetByID(id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, err
}

func (r *QueueRepository) List(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []interface{}{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY priority, created_at LIMIT $1`
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *QueueRepository) CountPending() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// Complete marks the job done and moves it to history in one transaction.
func (r *QueueRepository) Complete(id uuid.UUID) error {
	return r.finish(id, models.JobCompleted, nil)
}

// FailTerminal marks the job failed for good and moves it to history.
func (r *QueueRepository) FailTerminal(id uuid.UUID, errMsg string) error {
	return r.finish(id, models.JobFailed, &errMsg)
}

// Cancel marks a job cancelled and cascades to every not-yet-started
// descendant, waiting fan-out parents included. Processing descendants keep
// running until their next cooperative check.
func (r *QueueRepository) Cancel(id uuid.UUID) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing', 'waiting')`, id)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`WITH RECURSIVE tree AS (
			SELECT c.id FROM jobs c WHERE c.parent_job_id = $1
			UNION ALL
			SELECT c.id FROM jobs c JOIN tree t ON c.parent_job_id = t.id
		)
		UPDATE jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id IN (SELECT id FROM tree) AND status IN ('pending', 'waiting')`, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// IsCancelled is the cooperative cancellation checkpoint for handlers.
func (r *QueueRepository) IsCancelled(id uuid.UUID) (bool, error) {
	var status models.JobStatus
	err := r.db.QueryRow(`SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return true, nil
	}
	return status == models.JobCancelled, err
}

// ScheduleRetry returns a failed attempt to pending with backoff.
func (r *QueueRepository) ScheduleRetry(id uuid.UUID, at time.Time, errMsg string) error {
	_, err := r.db.Exec(`UPDATE jobs SET status = 'pending', retry_count = retry_count + 1,
		next_retry_at = $2, error = $3, updated_at = NOW()
		WHERE id = $1`, id, at, errMsg)
	return err
}

// Unclaim returns a claimed-but-unstarted job to pending. Unlike
// ScheduleRetry this does not touch retry_count; the job never ran.
func (r *QueueRepository) Unclaim(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE jobs SET status = 'pending', started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

// MarkWaiting parks a fan-out job whose handler returned but whose children
// are still active. The row stays in the hot table so child progress bumps
// land and cancellation reaches the tree.
func (r *QueueRepository) MarkWaiting(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE jobs SET status = 'waiting', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

// HasActiveChildren reports whether any child of the job is still pending,
// processing or itself waiting on grandchildren.
func (r *QueueRepository) HasActiveChildren(id uuid.UUID) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM jobs
		WHERE parent_job_id = $1 AND status IN ('pending', 'processing', 'waiting')`, id).Scan(&n)
	return n > 0, err
}

// SettleWaitingParents completes every waiting job whose children have all
// reached a terminal state, and returns their ids. Terminal children migrate
// to job_history, so an absent active row counts as settled.
func (r *QueueRepository) SettleWaitingParents() ([]uuid.UUID, error) {
	rows, err := r.db.Query(`SELECT w.id FROM jobs w
		WHERE w.status = 'waiting' AND NOT EXISTS (
			SELECT 1 FROM jobs c WHERE c.parent_job_id = w.id
			AND c.status IN ('pending', 'processing', 'waiting'))`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := r.finish(id, models.JobCompleted, nil); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Retry resets a terminally failed job at user request.
func (r *QueueRepository) Retry(id uuid.UUID) error {
	res, err := r.db.Exec(`UPDATE jobs SET status = 'pending', retry_count = 0,
		next_retry_at = NULL, error = NULL, completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not in a retryable state", id)
	}
	return nil
}

func (r *QueueRepository) UpdateProgress(id uuid.UUID, current, total int, message string) error {
	_, err := r.db.Exec(`UPDATE jobs SET progress_current = $2, progress_total = $3,
		progress_message = $4, updated_at = NOW() WHERE id = $1`, id, current, total, message)
	return err
}

// IncrementProgress bumps a parent job's counter atomically; child jobs use it
// to report phase completion without racing each other.
func (r *QueueRepository) IncrementProgress(id uuid.UUID, delta int, message string) error {
	_, err := r.db.Exec(`UPDATE jobs SET progress_current = progress_current + $2,
		progress_message = COALESCE(NULLIF($3, ''), progress_message), updated_at = NOW()
		WHERE id = $1`, id, delta, message)
	return err
}

// RecoverProcessing resets every processing row to pending. Called once at
// startup; retry counts are deliberately left untouched.
func (r *QueueRepository) RecoverProcessing() (int64, error) {
	res, err := r.db.Exec(`UPDATE jobs SET status = 'pending', started_at = NULL, updated_at = NOW()
		WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// finish writes the terminal state, copies the row to job_history and removes
// it from the hot table in a single transaction.
func (r *QueueRepository) finish(id uuid.UUID, status models.JobStatus, errMsg *string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE jobs SET status = $2, error = COALESCE($3, error),
		completed_at = NOW(), updated_at = NOW() WHERE id = $1`, id, status, errMsg)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO job_history (id, type, priority, status, retry_count, parent_job_id, error, created_at, started_at, completed_at, duration_ms)
		SELECT id, type, priority, status, retry_count, parent_job_id, error, created_at, started_at, completed_at,
			COALESCE(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000, 0)::bigint
		FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(`DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrateTerminal sweeps any lingering terminal rows (e.g. cancellations) into
// history.
func (r *QueueRepository) MigrateTerminal() (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO job_history (id, type, priority, status, retry_count, parent_job_id, error, created_at, started_at, completed_at, duration_ms)
		SELECT id, type, priority, status, retry_count, parent_job_id, error, created_at, started_at,
			COALESCE(completed_at, NOW()),
			COALESCE(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000, 0)::bigint
		FROM jobs WHERE status IN ('completed', 'failed', 'cancelled')
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM jobs WHERE status IN ('completed', 'failed', 'cancelled')`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListChildren returns the child jobs of a parent, any status.
func (r *QueueRepository) ListChildren(parentID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *QueueRepository) ListHistory(limit int) ([]*models.JobHistoryEntry, error) {
	rows, err := r.db.Query(`SELECT id, type, priority, status, retry_count, parent_job_id, error, created_at, started_at, completed_at, duration_ms
		FROM job_history ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.JobHistoryEntry
	for rows.Next() {
		e := &models.JobHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.Type, &e.Priority, &e.Status, &e.RetryCount, &e.ParentJobID, &e.Error,
			&e.CreatedAt, &e.StartedAt, &e.CompletedAt, &e.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneHistory caps job_history at the configured size.
func (r *QueueRepository) PruneHistory(keep int) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM job_history WHERE id IN (
		SELECT id FROM job_history ORDER BY completed_at DESC OFFSET $1)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

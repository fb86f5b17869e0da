package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo provides access to the issue delivery queue. All worker-side
// mutation goes through ClaimNext and the ClaimedTask it returns; the only
// other writer is EnqueueBatch inside the publish transaction.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// EnqueueBatch inserts one delivery task per recipient. It must run inside
// the caller's transaction: it has no atomicity guarantee of its own and
// relies on the publish transaction committing the tasks together with the
// idempotency record.
func (r *Repo) EnqueueBatch(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, recipients []string) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, email := range recipients {
		batch.Queue(`
			INSERT INTO inkwire.issue_delivery_queue (newsletter_issue_id, recipient_email)
			VALUES ($1, $2)`,
			issueID, email)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range recipients {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("enqueue delivery task: %w", err)
		}
	}
	return len(recipients), nil
}

// ClaimedTask is a delivery task locked by this worker. The row lock lives
// on the claiming transaction's connection, so a worker crash releases it
// automatically and the task becomes claimable again.
type ClaimedTask struct {
	DeliveryTask
	tx       pgx.Tx
	resolved bool
}

// ClaimNext locks and returns one due task, skipping rows claimed by other
// workers. It returns nil when the queue has no due task.
func (r *Repo) ClaimNext(ctx context.Context) (*ClaimedTask, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}

	var t ClaimedTask
	err = tx.QueryRow(ctx, `
		SELECT task_id, newsletter_issue_id, recipient_email, attempt_count, created_at
		FROM inkwire.issue_delivery_queue
		WHERE next_attempt_at <= now()
		ORDER BY task_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
	).Scan(&t.TaskID, &t.IssueID, &t.RecipientEmail, &t.AttemptCount, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim delivery task: %w", err)
	}

	t.tx = tx
	return &t, nil
}

// Task returns a copy of the claimed task's row data.
func (t *ClaimedTask) Task() DeliveryTask {
	return t.DeliveryTask
}

// Complete removes the task after a terminal outcome and commits the claim.
func (t *ClaimedTask) Complete(ctx context.Context) error {
	if t.resolved {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM inkwire.issue_delivery_queue WHERE task_id = $1`,
		t.TaskID,
	); err != nil {
		_ = t.tx.Rollback(ctx)
		t.resolved = true
		return fmt.Errorf("delete delivery task %d: %w", t.TaskID, err)
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delivery task %d: %w", t.TaskID, err)
	}
	t.resolved = true
	return nil
}

// Defer requeues the task after a transient failure: the attempt counter is
// incremented, the next attempt pushed out by delay, and the claim committed
// so the row becomes claimable once the delay elapses.
func (t *ClaimedTask) Defer(ctx context.Context, delay time.Duration) error {
	if t.resolved {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `
		UPDATE inkwire.issue_delivery_queue
		SET attempt_count = attempt_count + 1,
		    next_attempt_at = now() + $2
		WHERE task_id = $1`,
		t.TaskID, delay,
	); err != nil {
		_ = t.tx.Rollback(ctx)
		t.resolved = true
		return fmt.Errorf("defer delivery task %d: %w", t.TaskID, err)
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deferred task %d: %w", t.TaskID, err)
	}
	t.resolved = true
	return nil
}

// Release returns a claimed-but-unresolved task to the pending pool without
// recording anything. Safe to call any number of times, including after
// Complete or Defer.
func (t *ClaimedTask) Release(ctx context.Context) {
	if t.resolved {
		return
	}
	_ = t.tx.Rollback(ctx)
	t.resolved = true
}

// PendingForIssue reports how many delivery tasks remain for an issue.
// Zero means the issue's delivery is complete.
func (r *Repo) PendingForIssue(ctx context.Context, issueID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM inkwire.issue_delivery_queue
		WHERE newsletter_issue_id = $1`,
		issueID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}

// PendingTotal reports the total outbox backlog across all issues.
func (r *Repo) PendingTotal(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM inkwire.issue_delivery_queue`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox backlog: %w", err)
	}
	return n, nil
}

// PurgeIssue deletes the still-pending tasks of an issue. Rows claimed by
// active workers are locked and skipped, so the purge is safe to run while
// delivery is in flight; it returns the number of rows removed.
func (r *Repo) PurgeIssue(ctx context.Context, issueID uuid.UUID) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM inkwire.issue_delivery_queue
		WHERE task_id IN (
			SELECT task_id FROM inkwire.issue_delivery_queue
			WHERE newsletter_issue_id = $1
			FOR UPDATE SKIP LOCKED
		)`,
		issueID,
	)
	if err != nil {
		return 0, fmt.Errorf("purge pending tasks: %w", err)
	}
	return ct.RowsAffected(), nil
}

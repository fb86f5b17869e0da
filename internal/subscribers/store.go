package subscribers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Subscription statuses. Only confirmed subscribers receive issues.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// Store enumerates newsletter subscribers. The subscription and
// confirmation flow itself lives in the web layer; delivery only needs the
// confirmed audience.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ConfirmedEmails returns every confirmed subscriber address, fully
// materialized inside the caller's transaction so the recipient set is a
// consistent snapshot of the moment the issue was accepted.
func (s *Store) ConfirmedEmails(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT email FROM inkwire.subscriptions
		WHERE status = $1
		ORDER BY email`,
		StatusConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("query confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan subscriber email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read confirmed subscribers: %w", err)
	}
	return emails, nil
}

// ConfirmedCount reports the size of the confirmed audience.
func (s *Store) ConfirmedCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM inkwire.subscriptions WHERE status = $1`,
		StatusConfirmed,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count confirmed subscribers: %w", err)
	}
	return n, nil
}

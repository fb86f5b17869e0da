package issues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an issue ID does not exist.
var ErrNotFound = errors.New("newsletter issue not found")

// Issue is the content of one published newsletter issue.
type Issue struct {
	ID          uuid.UUID
	Title       string
	TextContent string
	HTMLContent string
	PublishedAt time.Time
}

// Store reads and writes newsletter issues. Inserts happen only inside the
// publish transaction; reads come from workers building outgoing emails.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes a new issue as part of the caller's transaction and returns
// its ID.
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, title, textContent, htmlContent string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO inkwire.newsletter_issues (id, title, text_content, html_content, published_at)
		VALUES ($1, $2, $3, $4, now())`,
		id, title, textContent, htmlContent,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert newsletter issue: %w", err)
	}
	return id, nil
}

// Get fetches an issue by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	var iss Issue
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, text_content, html_content, published_at
		FROM inkwire.newsletter_issues
		WHERE id = $1`,
		id,
	).Scan(&iss.ID, &iss.Title, &iss.TextContent, &iss.HTMLContent, &iss.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch newsletter issue: %w", err)
	}
	return &iss, nil
}

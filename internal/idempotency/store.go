package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrKeyConflict is returned by Save when a concurrent request already
// inserted a record for the same (actor, key) pair. The caller must roll
// back, re-read the winner's response, and return that instead.
var ErrKeyConflict = errors.New("idempotency key already saved by a concurrent request")

// Querier is the subset of pgx used for reads; both *pgxpool.Pool and
// pgx.Tx satisfy it, so Check works inside and outside a transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists one immutable record per (actor, idempotency key) pair.
// It holds no business logic; the command handler owns the transaction
// boundary.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Check returns the saved response for (actorID, key), or nil when the pair
// has not been seen.
func (s *Store) Check(ctx context.Context, q Querier, actorID uuid.UUID, key string) (*SavedResponse, error) {
	var (
		statusCode  int
		headersJSON []byte
		body        []byte
		resp        SavedResponse
	)
	err := q.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body, created_at
		FROM inkwire.idempotency
		WHERE user_id = $1 AND idempotency_key = $2`,
		actorID, key,
	).Scan(&statusCode, &headersJSON, &body, &resp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency record: %w", err)
	}

	headers := http.Header{}
	if err := json.Unmarshal(headersJSON, &headers); err != nil {
		return nil, fmt.Errorf("decode saved headers: %w", err)
	}

	resp.StatusCode = statusCode
	resp.Headers = headers
	resp.Body = body
	return &resp, nil
}

// Save writes the record as part of the caller's open transaction. A unique
// violation means a concurrent request won the race; the insert surfaces
// that as ErrKeyConflict and writes nothing.
func (s *Store) Save(ctx context.Context, tx pgx.Tx, actorID uuid.UUID, key string, resp *SavedResponse) error {
	headersJSON, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode response headers: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO inkwire.idempotency
			(user_id, idempotency_key, response_status_code, response_headers, response_body)
		VALUES ($1, $2, $3, $4, $5)`,
		actorID, key, resp.StatusCode, headersJSON, resp.Body,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrKeyConflict
		}
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

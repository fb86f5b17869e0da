package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rokeefe/inkwire/internal/idempotency"
	"github.com/rokeefe/inkwire/internal/logging"
	"github.com/rokeefe/inkwire/internal/metrics"
	"github.com/rokeefe/inkwire/internal/tracing"
)

// ErrRetry means this request lost an idempotency race and the winner's
// response was not yet visible. Nothing was committed; the client should
// retry the identical request.
var ErrRetry = errors.New("publish request lost an idempotency race, retry")

// IssueDraft is the content of an issue to publish.
type IssueDraft struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Result carries the response to return and whether it was replayed from a
// prior request with the same idempotency key.
type Result struct {
	Response *idempotency.SavedResponse
	Replayed bool
}

// DB is the slice of pgxpool used by the service: transactions for the
// command path, plain reads for the post-conflict re-check.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type idempotencyStore interface {
	Check(ctx context.Context, q idempotency.Querier, actorID uuid.UUID, key string) (*idempotency.SavedResponse, error)
	Save(ctx context.Context, tx pgx.Tx, actorID uuid.UUID, key string, resp *idempotency.SavedResponse) error
}

type issueWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, title, textContent, htmlContent string) (uuid.UUID, error)
}

type recipientLister interface {
	ConfirmedEmails(ctx context.Context, tx pgx.Tx) ([]string, error)
}

type taskEnqueuer interface {
	EnqueueBatch(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, recipients []string) (int, error)
}

// Service accepts publish commands exactly once. Accepting a command and
// enqueuing its delivery tasks is a single atomic unit: a client never sees
// "accepted" without the tasks durably queued, and never finds tasks queued
// without the acceptance recorded.
type Service struct {
	db     DB
	idem   idempotencyStore
	issues issueWriter
	subs   recipientLister
	queue  taskEnqueuer
	logger *logging.Logger
}

func NewService(db DB, idem idempotencyStore, issues issueWriter, subs recipientLister, queue taskEnqueuer, logger *logging.Logger) *Service {
	return &Service{
		db:     db,
		idem:   idem,
		issues: issues,
		subs:   subs,
		queue:  queue,
		logger: logger,
	}
}

// Publish runs the guarded command: check the idempotency record, and on
// first sight create the issue, enqueue one delivery task per confirmed
// recipient, and save the response, all in one transaction.
func (s *Service) Publish(ctx context.Context, actorID uuid.UUID, key string, draft IssueDraft) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "publish.Publish",
		attribute.String("actor_id", actorID.String()),
		attribute.String("idempotency_key", key),
	)
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("begin publish transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	saved, err := s.idem.Check(ctx, tx, actorID, key)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	if saved != nil {
		tracing.AddSpanEvent(ctx, "idempotency.replay")
		metrics.RecordIdempotentReplay()
		s.logger.WithContext(ctx).WithActor(actorID.String()).WithField("key", key).Info("replaying saved publish response")
		return &Result{Response: saved, Replayed: true}, nil
	}

	issueID, err := s.issues.Insert(ctx, tx, draft.Title, draft.TextContent, draft.HTMLContent)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	recipients, err := s.subs.ConfirmedEmails(ctx, tx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	// Zero recipients is a valid terminal state: the command still succeeds
	// and records an accepted response.
	enqueued, err := s.queue.EnqueueBatch(ctx, tx, issueID, recipients)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("recipients_enqueued", enqueued))

	resp, err := buildAcceptedResponse(issueID, enqueued)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	if err := s.idem.Save(ctx, tx, actorID, key, resp); err != nil {
		if errors.Is(err, idempotency.ErrKeyConflict) {
			// A concurrent request with the same key won. Drop our effects
			// and answer with the winner's response.
			_ = tx.Rollback(ctx)
			tracing.AddSpanEvent(ctx, "idempotency.conflict")
			winner, checkErr := s.idem.Check(ctx, s.db, actorID, key)
			if checkErr != nil {
				return nil, checkErr
			}
			if winner == nil {
				// The winner aborted after grabbing the key; nothing is
				// committed on either side.
				return nil, ErrRetry
			}
			metrics.RecordIdempotentReplay()
			return &Result{Response: winner, Replayed: true}, nil
		}
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("commit publish transaction: %w", err)
	}
	committed = true

	metrics.RecordIssuePublished()
	s.logger.WithContext(ctx).
		WithActor(actorID.String()).
		WithIssue(issueID.String()).
		WithField("recipients_enqueued", enqueued).
		Info("newsletter issue accepted for delivery")

	return &Result{Response: resp}, nil
}

type acceptedBody struct {
	IssueID            string `json:"issue_id"`
	RecipientsEnqueued int    `json:"recipients_enqueued"`
}

func buildAcceptedResponse(issueID uuid.UUID, enqueued int) (*idempotency.SavedResponse, error) {
	body, err := json.Marshal(acceptedBody{
		IssueID:            issueID.String(),
		RecipientsEnqueued: enqueued,
	})
	if err != nil {
		return nil, fmt.Errorf("encode accepted response: %w", err)
	}
	return &idempotency.SavedResponse{
		StatusCode: http.StatusAccepted,
		Headers: http.Header{
			"Content-Type": {"application/json"},
			"X-Issue-Id":   {issueID.String()},
		},
		Body: body,
	}, nil
}

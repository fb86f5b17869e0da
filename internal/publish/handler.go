package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rokeefe/inkwire/internal/auth"
	"github.com/rokeefe/inkwire/internal/idempotency"
	"github.com/rokeefe/inkwire/internal/logging"
)

// queueInspector is the operational surface of the outbox: delivery
// progress and cancellation of still-pending tasks.
type queueInspector interface {
	PendingForIssue(ctx context.Context, issueID uuid.UUID) (int64, error)
	PurgeIssue(ctx context.Context, issueID uuid.UUID) (int64, error)
}

type idempotencyReader interface {
	Check(ctx context.Context, q idempotency.Querier, actorID uuid.UUID, key string) (*idempotency.SavedResponse, error)
}

// Handler exposes the publish command and the admin/ops endpoints.
type Handler struct {
	svc    *Service
	db     DB
	queue  queueInspector
	idem   idempotencyReader
	logger *logging.Logger
}

func NewHandler(svc *Service, db DB, queue queueInspector, idem idempotencyReader, logger *logging.Logger) *Handler {
	return &Handler{
		svc:    svc,
		db:     db,
		queue:  queue,
		idem:   idem,
		logger: logger,
	}
}

// Routes mounts the admin endpoints onto r. The caller wraps them with the
// auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/newsletters", h.PublishNewsletter)
	r.Get("/issues/{issueID}/progress", h.IssueProgress)
	r.Delete("/issues/{issueID}/pending", h.PurgeIssue)
	r.Get("/idempotency/{key}", h.GetIdempotencyRecord)
}

type publishRequest struct {
	Title          string `json:"title"`
	TextContent    string `json:"text_content"`
	HTMLContent    string `json:"html_content"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PublishNewsletter accepts a publish command. Retries with the same
// idempotency key receive the saved response verbatim.
func (h *Handler) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.IdempotencyKey == "" {
		http.Error(w, "title and idempotency_key are required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Publish(r.Context(), actorID, req.IdempotencyKey, IssueDraft{
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
	})
	if err != nil {
		if errors.Is(err, ErrRetry) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "publish race, retry the request", http.StatusServiceUnavailable)
			return
		}
		h.logger.WithContext(r.Context()).WithActor(actorID.String()).WithError(err).Error("publish command failed")
		// Nothing was committed; the client can safely retry the full request.
		http.Error(w, "publish failed", http.StatusServiceUnavailable)
		return
	}

	if err := result.Response.Write(w); err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("write publish response")
	}
}

// IssueProgress reports the remaining delivery tasks for an issue; zero
// pending means delivery is complete.
func (h *Handler) IssueProgress(w http.ResponseWriter, r *http.Request) {
	issueID, err := uuid.Parse(chi.URLParam(r, "issueID"))
	if err != nil {
		http.Error(w, "invalid issue id", http.StatusBadRequest)
		return
	}

	pending, err := h.queue.PendingForIssue(r.Context(), issueID)
	if err != nil {
		h.logger.WithContext(r.Context()).WithIssue(issueID.String()).WithError(err).Error("count pending tasks")
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"issue_id": issueID.String(),
		"pending":  pending,
		"complete": pending == 0,
	})
}

// PurgeIssue removes the still-pending tasks of an issue. Tasks claimed by
// active workers are unaffected.
func (h *Handler) PurgeIssue(w http.ResponseWriter, r *http.Request) {
	issueID, err := uuid.Parse(chi.URLParam(r, "issueID"))
	if err != nil {
		http.Error(w, "invalid issue id", http.StatusBadRequest)
		return
	}

	removed, err := h.queue.PurgeIssue(r.Context(), issueID)
	if err != nil {
		h.logger.WithContext(r.Context()).WithIssue(issueID.String()).WithError(err).Error("purge pending tasks")
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	h.logger.WithContext(r.Context()).WithIssue(issueID.String()).WithField("removed", removed).Warn("pending deliveries purged")
	writeJSON(w, http.StatusOK, map[string]any{
		"issue_id": issueID.String(),
		"removed":  removed,
	})
}

// GetIdempotencyRecord reports whether a key has been processed for the
// calling actor. Presence means the exact request will never re-execute.
func (h *Handler) GetIdempotencyRecord(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	key := chi.URLParam(r, "key")

	saved, err := h.idem.Check(r.Context(), h.db, actorID, key)
	if err != nil {
		h.logger.WithContext(r.Context()).WithActor(actorID.String()).WithError(err).Error("read idempotency record")
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if saved == nil {
		http.Error(w, "no record for key", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":         key,
		"status_code": saved.StatusCode,
		"created_at":  saved.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

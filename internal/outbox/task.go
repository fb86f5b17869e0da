package outbox

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryTask is one pending email delivery for one recipient of one
// newsletter issue. Rows are created in bulk inside the publish transaction
// and removed once the delivery reaches a terminal outcome.
type DeliveryTask struct {
	TaskID         int64     `json:"task_id"`
	IssueID        uuid.UUID `json:"issue_id"`
	RecipientEmail string    `json:"recipient_email"`
	AttemptCount   int       `json:"attempt_count"`
	CreatedAt      time.Time `json:"created_at"`
}

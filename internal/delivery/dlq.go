package delivery

import (
	"time"

	"github.com/rokeefe/inkwire/internal/outbox"
)

const DLQType = "delivery.dlq"

// DeadLetter is the envelope published for deliveries abandoned after a
// permanent failure or the attempt ceiling. Ops consumers read it off the
// dead-letter topic; the envelope is the last record of the task, since the
// queue row is deleted when the letter is emitted.
type DeadLetter struct {
	Type         string              `json:"type"`    // "delivery.dlq"
	Version      string              `json:"version"` // schema version
	At           string              `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason       string              `json:"reason"`  // failure classification
	Attempt      int                 `json:"attempt"` // attempt count when abandoned
	HTTPStatus   int                 `json:"http_status,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
	Task         outbox.DeliveryTask `json:"task"` // full task snapshot
	TraceHeaders map[string]string   `json:"trace_headers,omitempty"`
}

func NewDeadLetter(t outbox.DeliveryTask, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Task:       t,
	}
}

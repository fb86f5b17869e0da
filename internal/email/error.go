package email

import (
	"errors"
	"fmt"
)

// Kind classifies a send failure for retry purposes. The variant is closed:
// callers never inspect error strings to decide retryability.
type Kind int

const (
	// KindTransient failures (network, timeout, provider 5xx, throttling)
	// are worth retrying.
	KindTransient Kind = iota
	// KindPermanent failures (rejected recipient, bad request) will not
	// succeed on retry.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// SendError is a tagged mail provider failure.
type SendError struct {
	Kind   Kind
	Status int // provider HTTP status, 0 when the request never completed
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send email (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("send email (%s): provider returned %d %s", e.Kind, e.Status, e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a send failure that retrying cannot
// fix. Untagged errors count as transient, favoring retry over silent loss.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind == KindPermanent
	}
	return false
}

// FailureReason returns a coarse label for retry metrics.
func FailureReason(err error) string {
	var se *SendError
	if !errors.As(err, &se) {
		return "other"
	}
	switch {
	case se.Status == 429:
		return "throttled"
	case se.Status >= 500:
		return "provider_5xx"
	case se.Status >= 400:
		return "provider_4xx"
	case se.Err != nil:
		return "network"
	default:
		return "other"
	}
}

package idempotency

import (
	"net/http"
	"time"
)

// SavedResponse is the recorded outcome of a previously completed
// state-changing request. Once written it is immutable; retries of the same
// (actor, key) pair replay it byte-for-byte.
type SavedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CreatedAt  time.Time
}

// Write replays the saved response onto w exactly as it was first produced.
func (r *SavedResponse) Write(w http.ResponseWriter) error {
	for k, vals := range r.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

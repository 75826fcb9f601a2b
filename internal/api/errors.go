package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrValidation marks requests rejected locally before any network call.
var ErrValidation = errors.New("invalid input")

// NotFoundError is returned when the backend reports 404 for a conversation.
// Callers distinguish it from other failures because it drives selection
// clearing and navigation away, not a retry or an error banner.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// IsNotFound reports whether err carries a 404 classification.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RequestError is a non-2xx response outside the documented 401/404 special
// cases. Status and the raw body are kept for diagnostics.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// isRetryable reports whether a read may be retried: transport failures and
// 5xx responses are transient, 4xx classifications are not.
func isRetryable(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status >= 500
	}
	if errors.Is(err, ErrValidation) {
		return false
	}
	return true
}

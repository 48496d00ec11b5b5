package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a network-level failure talking to the backend,
// including a broken response body in the middle of a stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError reports a non-success HTTP status returned by the backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s backend returned %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// DecodeError reports a top-level response that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTransientStatus reports whether a status code is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsTransient is the default retry classification shared by providers:
// transport failures and 429/5xx backend errors are transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return IsTransientStatus(be.StatusCode)
	}
	return false
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnavailable marks a transient upstream failure: the request may
// succeed if retried, and callers that exhaust their retries degrade
// to archive-only persistence for the event rather than failing it.
var ErrUnavailable = errors.New("llm: upstream unavailable")

// statusError is a non-2xx HTTP response from a model service.
type statusError struct {
	service string
	code    int
	body    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.service, e.code, e.body)
}

// newStatusError classifies the response by code: rate limits and
// server errors are transient, everything else (bad request, auth) is
// permanent.
func newStatusError(service string, code int, body string) error {
	err := &statusError{service: service, code: code, body: body}
	if code == 429 || code >= 500 {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// Transient reports whether the error is worth retrying: an explicit
// unavailable mark, an open circuit, a network failure, or a deadline.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

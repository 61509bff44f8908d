package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/avishifo/records/internal/session"
	"github.com/avishifo/records/pkg/circuitbreaker"
)

// ErrUnauthorized is returned after the clinic API rejected the token with 401.
// The token has already been dropped from the store.
var ErrUnauthorized = errors.New("clinic api rejected credentials")

// ServerError is a non-2xx response from the clinic API.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("clinic api: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("clinic api: status %d", e.Status)
}

// IsNotFound reports a 404 from the clinic API.
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// IsAuth reports missing, expired or rejected credentials.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, session.ErrNotAuthenticated)
}

// Unavailable reports errors that mean the clinic API could not serve the
// call: transport failures, 5xx responses and an open circuit. Client
// errors, auth failures and caller cancellation are not.
func Unavailable(err error) bool {
	if err == nil || IsAuth(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if circuitbreaker.IsOpenError(err) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return true
}

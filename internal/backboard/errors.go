package backboard

import (
	"errors"
	"fmt"
)

// errBodyLimit caps how much of an error response body is kept for
// diagnostics.
const errBodyLimit = 400

// ConnectivityError means the provider could not be reached at all
// (DNS failure, refused connection, unroutable network). It is distinct
// from APIError so callers can tell "fix your network/base URL" apart
// from "the provider rejected the request".
type ConnectivityError struct {
	BaseURL string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot connect to Backboard API at %s (check backboard.base_url and your network/DNS connectivity): %v", e.BaseURL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// APIError means the provider answered with an error status. Body is
// truncated to errBodyLimit bytes.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backboard %s failed (%d): %s", e.Operation, e.Status, e.Body)
}

// IsConnectivity reports whether err is (or wraps) a connectivity
// failure to the provider.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

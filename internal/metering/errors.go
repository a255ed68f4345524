package metering

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FetchError.
var (
	ErrUnauthorized     = errors.New("metering: unauthorized")
	ErrServer           = errors.New("metering: server error")
	ErrNetwork          = errors.New("metering: network error")
	ErrInvalidResponse  = errors.New("metering: invalid response")
	ErrUnexpectedStatus = errors.New("metering: unexpected status")
)

// FetchError reports a failed metering query. Callers match the cause with
// errors.Is against the sentinels above.
type FetchError struct {
	Endpoint   string
	UserID     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s for user %s (status %d): %v", e.Endpoint, e.UserID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching %s for user %s: %v", e.Endpoint, e.UserID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Kind returns a short label for the cause, used as a metric label.
func (e *FetchError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(e.Err, ErrServer):
		return "server"
	case errors.Is(e.Err, ErrNetwork):
		return "network"
	case errors.Is(e.Err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(e.Err, ErrUnexpectedStatus):
		return "unexpected_status"
	default:
		return "other"
	}
}

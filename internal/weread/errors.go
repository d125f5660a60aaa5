package weread

import (
	"errors"
	"fmt"
	"strings"
)

// FormatError reports a credential bundle that is malformed locally. It is
// never produced by a network call.
type FormatError struct {
	Missing []string
	Reason  string
}

func (e *FormatError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required cookie fields: " + strings.Join(e.Missing, ", ")
	}
	return "invalid credentials: " + e.Reason
}

// AuthError is a 401/403 from the platform.
type AuthError struct {
	Endpoint string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (status %d)", e.Endpoint, e.Status)
}

// UnavailableError is a 404 from an endpoint that used to exist.
type UnavailableError struct {
	Endpoint string
}

func (e *UnavailableError) Error() string {
	return e.Endpoint + ": endpoint unavailable (404)"
}

// TransportError is a timeout or connection failure.
type TransportError struct {
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	kind := "connection failed"
	if e.Timeout {
		kind = "request timed out"
	}
	if e.Err == nil {
		return e.Endpoint + ": " + kind
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is a 200 response whose body did not have the expected shape.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unexpected response body: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusError is any status the classifiers do not handle specifically.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
}

// AggregateFailure is returned once every candidate has been tried without
// success. Last is the reason recorded for the final candidate that produced
// one.
type AggregateFailure struct {
	Attempts int
	Last     error
}

func (e *AggregateFailure) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all %d candidates failed", e.Attempts)
	}
	return fmt.Sprintf("all %d candidates failed, last error: %v", e.Attempts, e.Last)
}

func (e *AggregateFailure) Unwrap() error {
	return e.Last
}

// IsAuthError reports whether err is, or terminally wraps, an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsFormatError reports whether err is a FormatError.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}

// UserMessage renders a reconciliation failure for end users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsFormatError(err):
		return err.Error()
	case IsAuthError(err):
		return "temporarily unable to retrieve bookshelf, please re-authenticate"
	default:
		return "temporarily unable to retrieve bookshelf, please retry"
	}
}

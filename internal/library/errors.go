package library

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshInProgress is returned when a second refresh for the same
	// user starts before the first one finished.
	ErrRefreshInProgress = errors.New("bookshelf refresh already in progress")

	// ErrNoNotes is returned by Export when the book has no highlights.
	ErrNoNotes = errors.New("no notes found for this book")
)

// ValidationError reports a bad request parameter.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// LoginRejectedError is returned when the platform did not accept the
// credentials and unverified logins are disabled.
type LoginRejectedError struct {
	Message string
	Err     error
}

func (e *LoginRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login rejected: %s: %v", e.Message, e.Err)
	}
	return "login rejected: " + e.Message
}

func (e *LoginRejectedError) Unwrap() error {
	return e.Err
}

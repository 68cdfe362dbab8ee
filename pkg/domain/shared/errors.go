// Package shared holds the identifiers and error kinds used by every catalog
// domain package.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Stores and services wrap these so callers can branch with
// errors.Is regardless of which package produced the error.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
)

// DomainError attaches a stable machine readable code to one of the error
// kinds above.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a DomainError wrapping kind.
func NewDomainError(code, message string, kind error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: kind}
}

// CodeOf returns the code of the outermost DomainError in err's chain, or ""
// when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsPermanent reports errors that repeating the same request cannot fix: a
// malformed input or a reference to a row that does not exist.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so entry points can map them to a response
// or an error report.
type ErrorKind string

const (
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindStorageUnavailable  ErrorKind = "StorageUnavailable"
	KindNoDocumentFound     ErrorKind = "NoDocumentFound"
	KindDateValidationError ErrorKind = "DateValidationError"
	KindIndexWriteFailed    ErrorKind = "IndexWriteFailed"
	KindCatastrophicFailure ErrorKind = "CatastrophicFailure"
)

// Error is an application error carrying its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first Error in err's chain. Anything else is
// treated as a catastrophic failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindCatastrophicFailure
}

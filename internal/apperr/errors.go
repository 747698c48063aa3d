package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the dispatcher can turn them into envelopes.
type Kind string

const (
	KindAuthRequired  Kind = "AUTH_REQUIRED"
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConnection    Kind = "CONNECTION"
	KindRemote        Kind = "REMOTE"
	KindMalformedLLM  Kind = "MALFORMED_LLM_RESPONSE"
	KindUnknownAction Kind = "UNKNOWN_ACTION"
	KindStorage       Kind = "STORAGE"
	KindInternal      Kind = "INTERNAL"
)

// Error is the application error type. Message is safe to show to users,
// Err carries internal detail and is only logged.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func AuthRequired() error {
	return New(KindAuthRequired, "User not authenticated")
}

func Validation(message string) error {
	return New(KindValidation, message)
}

func NotFound(message string) error {
	return New(KindNotFound, message)
}

func Storage(message string, err error) error {
	return Wrap(KindStorage, message, err)
}

func Connection(err error) error {
	return Wrap(KindConnection, "LLM service unreachable", err)
}

// Remote reports a non-2xx answer from the LLM endpoint.
func Remote(status int, body string) error {
	return &Error{
		Kind:       KindRemote,
		Message:    fmt.Sprintf("LLM service returned status %d", status),
		StatusCode: status,
		Err:        fmt.Errorf("body: %s", body),
	}
}

func MalformedLLM(message string) error {
	return New(KindMalformedLLM, message)
}

func UnknownAction(action string) error {
	return Newf(KindUnknownAction, "Unknown action: %s", action)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is the text shown to callers. Non-application errors never
// leak their detail.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

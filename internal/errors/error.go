package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryChannel   Category = "channel"
	CategorySnapshot  Category = "snapshot"
	CategoryTransport Category = "transport"
	CategoryConfig    Category = "config"
	CategoryDemo      Category = "demo"
	CategoryCLI       Category = "cli"
)

// NetError is a structured error with a code, an explanation and a hint.
type NetError struct {
	// Code is a unique error identifier (e.g., "E060").
	Code string

	// Category is the error type (transport, config, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Subject names what the error is about: a file, an address, a key.
	Subject string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *NetError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *NetError) Unwrap() error {
	return e.Wrapped
}

// WithSubject records what the error is about.
func (e *NetError) WithSubject(s string) *NetError {
	e.Subject = s
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *NetError) WithSuggestion(s string) *NetError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *NetError) WithDetail(d string) *NetError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *NetError) Wrap(err error) *NetError {
	e.Wrapped = err
	return e
}

// New creates a NetError from a registered error code.
func New(code string) *NetError {
	template, ok := registry[code]
	if !ok {
		return &NetError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &NetError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new NetError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *NetError {
	return &NetError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a NetError. An error that already
// carries a NetError is returned as that NetError.
func FromError(err error, code string) *NetError {
	if err == nil {
		return nil
	}
	var ne *NetError
	if stderrors.As(err, &ne) {
		return ne
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err carries a NetError with code.
func HasCode(err error, code string) bool {
	var ne *NetError
	return stderrors.As(err, &ne) && ne.Code == code
}

// Package errs defines the typed errors shared across aulabot components.
// Every error carries a code so callers can decide whether a safe default
// applies or the failure has to surface.
package errs

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown    = "UNKNOWN"
	CodeDatabase   = "DATABASE"
	CodeValidation = "VALIDATION"
	CodeTelegram   = "TELEGRAM"
	CodeConfig     = "CONFIG"
	CodeSession    = "SESSION"
)

// ApplicationError is implemented by every error in this package.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

type baseError struct {
	code    string
	message string
	err     error
}

func (e *baseError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *baseError) Code() string { return e.code }

func (e *baseError) Unwrap() error { return e.err }

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// DatabaseError reports a failed store operation.
type DatabaseError struct{ baseError }

// NewDatabaseError wraps cause as a DatabaseError.
func NewDatabaseError(message string, cause error) error {
	return &DatabaseError{baseError{code: CodeDatabase, message: message, err: cause}}
}

// ValidationError reports malformed input rejected before any write.
type ValidationError struct{ baseError }

// NewValidationError wraps cause as a ValidationError. cause may be nil.
func NewValidationError(message string, cause error) error {
	return &ValidationError{baseError{code: CodeValidation, message: message, err: cause}}
}

// TelegramError reports a failed outbound platform call.
type TelegramError struct{ baseError }

// NewTelegramError wraps cause as a TelegramError.
func NewTelegramError(message string, cause error) error {
	return &TelegramError{baseError{code: CodeTelegram, message: message, err: cause}}
}

// ConfigError reports invalid or unreadable configuration.
type ConfigError struct{ baseError }

// NewConfigError wraps cause as a ConfigError.
func NewConfigError(message string, cause error) error {
	return &ConfigError{baseError{code: CodeConfig, message: message, err: cause}}
}

// SessionError reports an irrecoverable instructor session failure. The
// session that produced it must be cleared.
type SessionError struct{ baseError }

// NewSessionError wraps cause as a SessionError.
func NewSessionError(message string, cause error) error {
	return &SessionError{baseError{code: CodeSession, message: message, err: cause}}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsSession reports whether err is a SessionError.
func IsSession(err error) bool {
	var s *SessionError
	return errors.As(err, &s)
}

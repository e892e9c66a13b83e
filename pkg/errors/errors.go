package errors

import (
	"fmt"
	"strings"
)

// Class buckets an error into the handling taxonomy: transient failures are
// retried with backoff, everything else is surfaced once and not retried.
type Class string

const (
	ClassTransient     Class = "TRANSIENT"
	ClassValidation    Class = "VALIDATION"
	ClassCaptureDenied Class = "CAPTURE_DENIED"
	ClassAutoplay      Class = "AUTOPLAY_BLOCKED"
	ClassFatal         Class = "FATAL"
)

// AppError carries a classification and optional cause.
type AppError struct {
	Class   Class
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(class Class, message string) *AppError {
	return &AppError{Class: class, Message: message}
}

// Wrap classifies an existing error.
func Wrap(err error, class Class, message string) *AppError {
	return &AppError{Class: class, Message: message, Cause: err}
}

// transientPhrases are the broker failure messages known to self-resolve
// with retry. Matching is on message text because the broker reports errors
// opaquely; the phrasing is pinned by the domain sentinels.
var transientPhrases = []string{
	"could not connect to peer",
	"lost connection to server",
	"socket closed",
}

// Classify buckets an arbitrary error. Explicitly classified errors keep
// their class; otherwise the message is matched against the recognized
// transient phrases and anything unrecognized is fatal.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if app := GetAppError(err); app != nil {
		return app.Class
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return ClassTransient
		}
	}
	return ClassFatal
}

// IsTransient reports whether the error belongs to the retryable class.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// Truncate caps a message for display, appending an ellipsis when cut.
func Truncate(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	return msg[:max] + "..."
}

// GetAppError extracts an AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	for err != nil {
		if app, ok := err.(*AppError); ok {
			return app
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

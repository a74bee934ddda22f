// Package apperr gives each failure kind from the pipeline's error-handling
// policy table a typed shape: a code, a user-facing message, and whether
// the failure should refund a quota decrement.
package apperr

import "fmt"

// Code identifies one of the closed set of pipeline failure kinds.
type Code string

const (
	CodeQuotaExhausted   Code = "QUOTA_EXHAUSTED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeUnsupportedMedia Code = "UNSUPPORTED_MEDIA"
	CodeDuplicateUpload  Code = "DUPLICATE_UPLOAD"
	CodeStoreTransient   Code = "STORE_TRANSIENT"
	CodeAnalysisTimeout  Code = "ANALYSIS_TIMEOUT"
	CodeAnalysisError    Code = "ANALYSIS_ERROR"
	CodePersistenceError Code = "PERSISTENCE_ERROR"
	CodeNotificationError Code = "NOTIFICATION_ERROR"
	CodeFatalBadJob      Code = "FATAL_BAD_JOB"
)

// Error is a structured pipeline failure. It never carries internal
// identifiers (DB ids, stack traces) in Message — those belong in the
// wrapped Cause, which is logged but never shown to the user.
type Error struct {
	Code        Code
	Message     string // short, non-technical, user-facing
	RefundQuota bool
	Retryable   bool
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func QuotaExhausted() *Error {
	return &Error{Code: CodeQuotaExhausted, Message: "You've used your free analyses for today. Come back tomorrow or upgrade to pro."}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Code: CodeRateLimited, Message: fmt.Sprintf("Too many requests, wait %d seconds", retryAfterSeconds)}
}

func UnsupportedMedia(reason string) *Error {
	return &Error{Code: CodeUnsupportedMedia, Message: reason}
}

func DuplicateUpload(analysisID string) *Error {
	return &Error{Code: CodeDuplicateUpload, Message: fmt.Sprintf("duplicate detected; reusing prior analysis %s", analysisID)}
}

func StoreTransient(cause error) *Error {
	return &Error{
		Code: CodeStoreTransient, Message: "We couldn't access your upload right now. Please try again.",
		RefundQuota: true, Retryable: true, Cause: cause,
	}
}

func AnalysisTimeout() *Error {
	return &Error{
		Code: CodeAnalysisTimeout, Message: "Analysis took too long and was cancelled. Please try again.",
		RefundQuota: true,
	}
}

func AnalysisError(cause error) *Error {
	return &Error{
		Code: CodeAnalysisError, Message: "Analysis failed. Please try again in a moment.",
		RefundQuota: true, Cause: cause,
	}
}

func PersistenceError(cause error) *Error {
	return &Error{Code: CodePersistenceError, Message: "", Retryable: true, Cause: cause}
}

func NotificationError(cause error) *Error {
	return &Error{Code: CodeNotificationError, Message: "", Cause: cause}
}

func FatalBadJob(reason string) *Error {
	return &Error{Code: CodeFatalBadJob, Message: reason}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	return ae, ok
}

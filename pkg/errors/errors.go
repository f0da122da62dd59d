package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeIntegrity     Code = "INTEGRITY_VIOLATION"
)

// Reason narrows a code to the ledger condition that produced it. It is
// surfaced to callers as details.reason.
type Reason string

const (
	ReasonInvalidTransition     Reason = "invalid_transition"
	ReasonAlreadyComputed       Reason = "already_computed"
	ReasonAlreadyTerminal       Reason = "already_terminal"
	ReasonInsufficientFunds     Reason = "insufficient_funds"
	ReasonInvalidRate           Reason = "invalid_rate"
	ReasonNoEligibleCommissions Reason = "no_eligible_commissions"
	ReasonAttemptMismatch       Reason = "attempt_key_mismatch"
	ReasonAlreadyLinked         Reason = "already_linked"
)

// Metadata is how a code surfaces over HTTP. Retryable tells clients that
// the same request may succeed later unchanged.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:     {http.StatusForbidden, false, "access denied", true},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:      {http.StatusConflict, true, "conflict detected", false},
	CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused", true},
	CodeRateLimit:     {http.StatusTooManyRequests, true, "rate limit exceeded", false},
	CodeInternal:      {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	CodeIntegrity:     {http.StatusInternalServerError, false, "ledger integrity check failed", false},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	reason  Reason
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// Conflict builds a STATE_CONFLICT error tagged with reason.
func Conflict(reason Reason, message string) *Error {
	return &Error{code: CodeStateConflict, reason: reason, message: message}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Reason() Reason {
	if e == nil {
		return ""
	}
	return e.reason
}

// WithReason tags the error with a ledger reason.
func (e *Error) WithReason(reason Reason) *Error {
	if e == nil {
		return nil
	}
	e.reason = reason
	return e
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns the attached details. A tagged reason is merged in when no
// explicit details were set.
func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	if e.details == nil && e.reason != "" {
		return map[string]any{"reason": string(e.reason)}
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.code, e.reason, e.message)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Is matches another *Error by code, and by reason when the target has one,
// so errors.Is(err, pkgerrors.Conflict(ReasonAlreadyTerminal, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !stdErrors.As(target, &t) || t == nil {
		return false
	}
	return e.code == t.code && (t.reason == "" || e.reason == t.reason)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// HasReason reports whether err carries the ledger reason.
func HasReason(err error, reason Reason) bool {
	typed := As(err)
	return typed != nil && typed.reason == reason
}

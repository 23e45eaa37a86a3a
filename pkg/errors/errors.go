package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible error identifier written into APIError.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Webhook authentication and payload failures.
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeStaleTimestamp   Code = "STALE_TIMESTAMP"
	CodeMalformed        Code = "MALFORMED_EVENT"
)

// Metadata drives how responses.WriteError renders a code. Retryable codes
// are the ones a payment provider or storefront client may safely resend.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func final(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg}
}

func transient(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, Retryable: true}
}

func (m Metadata) withDetails() Metadata {
	m.DetailsAllowed = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    final(http.StatusBadRequest, "validation failed").withDetails(),
	CodeNotFound:      final(http.StatusNotFound, "resource not found"),
	CodeConflict:      final(http.StatusConflict, "conflict detected"),
	CodeStateConflict: final(http.StatusUnprocessableEntity, "state transition disallowed").withDetails(),
	CodeIdempotency:   final(http.StatusConflict, "idempotency key reused").withDetails(),
	CodeRateLimit:     final(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error"),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable").withDetails(),

	CodeInvalidSignature: final(http.StatusBadRequest, "invalid signature"),
	CodeStaleTimestamp:   final(http.StatusBadRequest, "signature timestamp outside tolerance"),
	CodeMalformed:        final(http.StatusUnprocessableEntity, "malformed event").withDetails(),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error pairs a Code with a client-safe message. The wrapped cause is for
// logs only and never reaches the response body.
type Error struct {
	code    Code
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

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
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
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether err carries the provided code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
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

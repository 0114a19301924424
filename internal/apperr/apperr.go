// Package apperr defines the error taxonomy shared by the auth services and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind groups error codes by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
	KindExpired
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindExpired:
		return "expired"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Code is a stable machine-readable error code.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeInternal   Code = "INTERNAL"

	CodeDuplicatePhone        Code = "DUPLICATE_PHONE"
	CodeRegistrationNotFound  Code = "REGISTRATION_NOT_FOUND"
	CodeInvalidCode           Code = "INVALID_CODE"
	CodeCodeExpired           Code = "CODE_EXPIRED"
	CodeUserNotFound          Code = "USER_NOT_FOUND"
	CodePhoneNotVerified      Code = "PHONE_NOT_VERIFIED"
	CodeAccountNotActive      Code = "ACCOUNT_NOT_ACTIVE"
	CodeInvalidPassword       Code = "INVALID_PASSWORD"
	CodeInvalidRefreshToken   Code = "INVALID_REFRESH_TOKEN"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeChallengeExpired      Code = "CHALLENGE_EXPIRED"
	CodeChallengeUsed         Code = "CHALLENGE_USED"
	CodeBiometricVerification Code = "BIOMETRIC_VERIFICATION_FAILED"
	CodeBiometricAuth         Code = "BIOMETRIC_AUTHENTICATION_FAILED"
	CodeCredentialMismatch    Code = "CREDENTIAL_MISMATCH"
	CodeCredentialNotFound    Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialExists      Code = "CREDENTIAL_EXISTS"
	CodeNoCredentials         Code = "NO_CREDENTIALS_ENROLLED"
	CodeCounterRegression     Code = "COUNTER_REGRESSION"
	CodeInvalidToken          Code = "INVALID_TOKEN"
	CodeTokenExpiredOrUsed    Code = "TOKEN_EXPIRED_OR_USED"
	CodeUserNotActive         Code = "USER_NOT_ACTIVE"
	CodeAccountForbidden      Code = "ACCOUNT_FORBIDDEN"
)

// Error is the domain error type returned by services.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code, kind and message.
func New(code Code, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Wrap creates a domain error that keeps an underlying cause.
func Wrap(code Code, kind Kind, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Cause: cause}
}

// Validation is shorthand for input rejected before touching storage.
func Validation(message string) *Error {
	return New(CodeValidation, KindValidation, message)
}

// Internal wraps an unexpected failure without leaking its text to clients.
func Internal(cause error) *Error {
	return Wrap(CodeInternal, KindInternal, "internal error", cause)
}

// As extracts the domain error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err; non-domain errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err; non-domain errors report CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error onto the status code returned to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindExpired:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to expose to clients.
func PublicMessage(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return "internal error"
}

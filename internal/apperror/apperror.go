// Package apperror defines the coded error type shared by the service and
// repository layers. Every error crossing a layer boundary keeps its Code so
// that callers (handlers, checkout workflows) can tell "cannot take cash right
// now" apart from "storage is temporarily down".
package apperror

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodePrecondition  Code = "PRECONDITION_FAILED"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnavailable   Code = "STORAGE_UNAVAILABLE"
	CodeMismatch      Code = "RECONCILIATION_MISMATCH"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// Kind groups codes by how a caller is expected to react.
type Kind string

const (
	KindPrecondition   Kind = "precondicion"
	KindValidation     Kind = "validacion"
	KindTransient      Kind = "transitorio"
	KindReconciliation Kind = "conciliacion"
	KindInternal       Kind = "interno"
)

type Metadata struct {
	HTTPStatus int
	Retryable  bool
	Kind       Kind
}

var metadataByCode = map[Code]Metadata{
	CodePrecondition:  {HTTPStatus: http.StatusConflict, Kind: KindPrecondition},
	CodeConflict:      {HTTPStatus: http.StatusConflict, Kind: KindPrecondition},
	CodeStateConflict: {HTTPStatus: http.StatusConflict, Kind: KindPrecondition},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, Kind: KindPrecondition},
	CodeValidation:    {HTTPStatus: http.StatusUnprocessableEntity, Kind: KindValidation},
	CodeUnavailable:   {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Kind: KindTransient},
	CodeMismatch:      {HTTPStatus: http.StatusConflict, Kind: KindReconciliation},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Kind: KindInternal},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

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

// Withf enriches a sentinel with context while keeping its code, so that
// errors.Is(result, base) still holds.
func Withf(base *Error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if base == nil {
		return New(CodeInternal, msg)
	}
	return &Error{code: base.code, message: base.message + ": " + msg, cause: base}
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

// WithDetails returns a copy carrying details; sentinels are never mutated.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	return &Error{code: e.code, message: e.message, details: details, cause: e}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
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

// CodeOf returns the code of the outermost *Error, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry with the same idempotency key.
func IsRetryable(err error) bool {
	return MetadataFor(CodeOf(err)).Retryable
}

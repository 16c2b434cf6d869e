// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import "cajapos/internal/apperror"

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
// Retryable tells UI layers to offer "reintentar" with the same referencia
// instead of reporting a failed operation.
type APIError struct {
	Detail    string `json:"detail"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// FromError renders a coded error. Internal errors get a generic message.
func FromError(err error) (int, *APIError) {
	typed := apperror.As(err)
	if typed == nil {
		meta := apperror.MetadataFor(apperror.CodeInternal)
		return meta.HTTPStatus, &APIError{Detail: "Error interno del servidor", Code: string(apperror.CodeInternal)}
	}
	meta := apperror.MetadataFor(typed.Code())
	detail := typed.Error()
	if typed.Code() == apperror.CodeInternal {
		detail = "Error interno del servidor"
	}
	return meta.HTTPStatus, &APIError{
		Detail:    detail,
		Code:      string(typed.Code()),
		Retryable: meta.Retryable,
		Details:   typed.Details(),
	}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "Error de validacion", Fields: fields}
}

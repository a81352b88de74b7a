// Package apierrors define la estructura estándar de errores de la API y el
// catálogo de errores predefinidos. Los handlers nunca inventan códigos
// inline: todo error que cruza el borde HTTP sale de acá.
package apierrors

import (
	"fmt"
	"net/http"
)

// AppError define la estructura estándar para errores de la aplicación.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // no se serializa, usado para el header
	Err        error  `json:"-"` // causa original, para logs, no se expone al cliente
}

// Error implementa la interfaz error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// FromError convierte un error genérico en AppError. Si no lo es, devuelve un
// error interno genérico conservando la causa.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// WithDetail agrega detalle. Devuelve una COPIA para no mutar el catálogo.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause agrega la causa. Devuelve una COPIA.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// =================================================================================
// CATÁLOGO
// =================================================================================

var (
	// 400
	ErrBadRequest  = New(http.StatusBadRequest, "bad_request", "request inválido")
	ErrInvalidJSON = New(http.StatusBadRequest, "invalid_json", "body JSON inválido o ausente")

	// 401
	ErrSessionMissing = New(http.StatusUnauthorized, "session_missing", "falta el session id (Authorization: Bearer)")
	ErrSessionInvalid = New(http.StatusUnauthorized, "session_invalid", "sesión inexistente o vencida")
	ErrMFARequired    = New(http.StatusUnauthorized, "mfa_required", "el usuario tiene 2FA habilitado: falta totp_code o backup_code")
	ErrInvalidCode    = New(http.StatusUnauthorized, "invalid_code", "código de verificación inválido")

	// 403
	ErrForbidden = New(http.StatusForbidden, "forbidden", "operación no permitida para esta sesión")

	// 404
	ErrNotFound = New(http.StatusNotFound, "not_found", "recurso inexistente")

	// 409
	ErrNoPendingEnrollment = New(http.StatusConflict, "no_pending_enrollment", "no hay enrolamiento 2FA pendiente o expiró")

	// 429
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "demasiados requests, reintente más tarde")

	// 5xx
	ErrInternal            = New(http.StatusInternalServerError, "internal_error", "error interno")
	ErrUpstreamUnavailable = New(http.StatusBadGateway, "upstream_unavailable", "el proveedor de identidad no respondió")
)

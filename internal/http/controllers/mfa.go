package controllers

import (
	"errors"
	"net/http"

	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/http/middlewares"
	"github.com/dcastilla/authcore/internal/mfa"
)

// MFAController maneja el ciclo de vida del segundo factor. Todas las rutas
// exigen sesión: enrolar 2FA sin estar autenticado no tiene sentido.
type MFAController struct {
	deps Deps
}

type codeRequest struct {
	Code string `json:"code"`
}

// Enroll inicia el enrolamiento: genera el secreto y devuelve la URI otpauth.
func (c *MFAController) Enroll(w http.ResponseWriter, r *http.Request) {
	s, _ := middlewares.GetSession(r.Context())

	enr, err := c.deps.MFA.BeginEnrollment(r.Context(), s.UserID, s.Email)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"secret": enr.Secret,
		"uri":    enr.URI,
	})
}

// Confirm cierra el enrolamiento con un código válido y devuelve los backup
// codes en claro (única vez que se muestran).
func (c *MFAController) Confirm(w http.ResponseWriter, r *http.Request) {
	s, _ := middlewares.GetSession(r.Context())
	var req codeRequest
	if !apierrors.ReadJSON(w, r, &req) {
		return
	}

	codes, err := c.deps.MFA.ConfirmEnrollment(r.Context(), s.UserID, req.Code)
	if err != nil {
		apierrors.WriteError(w, mapMFAError(err))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":      true,
		"backup_codes": codes,
	})
}

// Verify chequea un código TOTP de la sesión actual (step-up para operaciones
// sensibles). Un código malo es 401, no 500.
func (c *MFAController) Verify(w http.ResponseWriter, r *http.Request) {
	s, _ := middlewares.GetSession(r.Context())
	var req codeRequest
	if !apierrors.ReadJSON(w, r, &req) {
		return
	}

	ok, err := c.deps.MFA.VerifyTOTP(r.Context(), s.Email, req.Code)
	if err != nil {
		apierrors.WriteError(w, mapMFAError(err))
		return
	}
	if !ok {
		apierrors.WriteError(w, apierrors.ErrInvalidCode)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// RotateBackupCodes invalida el set vigente y devuelve uno nuevo.
func (c *MFAController) RotateBackupCodes(w http.ResponseWriter, r *http.Request) {
	s, _ := middlewares.GetSession(r.Context())

	codes, err := c.deps.MFA.RotateBackupCodes(r.Context(), s.UserID, s.Email)
	if err != nil {
		apierrors.WriteError(w, mapMFAError(err))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// Disable apaga 2FA para el usuario de la sesión.
func (c *MFAController) Disable(w http.ResponseWriter, r *http.Request) {
	s, _ := middlewares.GetSession(r.Context())

	if err := c.deps.MFA.Disable(r.Context(), s.UserID); err != nil {
		apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mapMFAError traduce los errores del service a errores de API.
func mapMFAError(err error) error {
	switch {
	case errors.Is(err, mfa.ErrInvalidCode):
		return apierrors.ErrInvalidCode
	case errors.Is(err, mfa.ErrNoPendingEnrollment):
		return apierrors.ErrNoPendingEnrollment
	case errors.Is(err, mfa.ErrNotEnrolled):
		return apierrors.ErrBadRequest.WithDetail("2FA no habilitado para este usuario")
	default:
		return apierrors.ErrInternal.WithCause(err)
	}
}

package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dcastilla/authcore/internal/domain/repository"
	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/http/middlewares"
	"github.com/dcastilla/authcore/internal/observability/logger"
	"github.com/dcastilla/authcore/internal/session"
	"github.com/dcastilla/authcore/internal/util"
)

// AuthController maneja login, logout y refresh. El login asume que la
// credencial primaria ya fue verificada por el gateway: acá solo se resuelve
// el segundo factor y se emite la sesión.
type AuthController struct {
	deps Deps
}

type loginRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
	MFAUsed   string `json:"mfa_used,omitempty"` // totp | backup_code
}

// Login emite una sesión. Si el perfil tiene 2FA habilitado exige totp_code o
// backup_code; sin ninguno responde mfa_required para que el gateway pida el
// segundo paso.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !apierrors.ReadJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Email == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("user_id y email son obligatorios"))
		return
	}
	ctx := r.Context()

	state, err := c.deps.Creds.GetProfileSecurityState(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Mismo resultado que un código malo: la respuesta no distingue
			// "perfil inexistente" de "código inválido" (oráculo de enumeración).
			// El motivo real queda solo en el log.
			logger.From(ctx).Info("login rejected",
				logger.Reason("unknown_profile"),
				logger.Email(util.MaskEmail(req.Email)),
			)
			apierrors.WriteError(w, apierrors.ErrInvalidCode)
			return
		}
		apierrors.WriteError(w, apierrors.ErrUpstreamUnavailable.WithCause(err))
		return
	}

	mfaUsed := ""
	if state.TOTPEnabled {
		switch {
		case req.TOTPCode != "":
			ok, err := c.deps.MFA.VerifyTOTP(ctx, req.Email, req.TOTPCode)
			if err != nil {
				apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
				return
			}
			if !ok {
				apierrors.WriteError(w, apierrors.ErrInvalidCode)
				return
			}
			mfaUsed = "totp"
		case req.BackupCode != "":
			ok, err := c.deps.MFA.UseBackupCode(ctx, req.Email, req.BackupCode)
			if err != nil {
				apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
				return
			}
			if !ok {
				apierrors.WriteError(w, apierrors.ErrInvalidCode)
				return
			}
			mfaUsed = "backup_code"
		default:
			apierrors.WriteError(w, apierrors.ErrMFARequired)
			return
		}
	}

	dev := session.DeviceInfo{
		UserAgent: r.UserAgent(),
		IPAddress: middlewares.ClientIP(r),
		DeviceID:  req.DeviceID,
	}
	id, err := c.deps.Sessions.CreateSession(ctx, req.UserID, req.Email, dev)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
		return
	}

	s, _ := c.deps.Sessions.ValidateSession(ctx, id, false)
	logger.From(ctx).Info("login completed",
		logger.UserID(req.UserID),
		logger.Email(util.MaskEmail(req.Email)),
	)
	apierrors.WriteJSON(w, http.StatusCreated, loginResponse{
		SessionID: id,
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		MFAUsed:   mfaUsed,
	})
}

// Logout invalida la sesión del caller.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := middlewares.GetSession(r.Context())
	if !ok {
		apierrors.WriteError(w, apierrors.ErrSessionMissing)
		return
	}
	c.deps.Sessions.InvalidateSession(r.Context(), s.ID, "logout")
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll invalida todas las sesiones del usuario menos la actual.
func (c *AuthController) LogoutAll(w http.ResponseWriter, r *http.Request) {
	s, ok := middlewares.GetSession(r.Context())
	if !ok {
		apierrors.WriteError(w, apierrors.ErrSessionMissing)
		return
	}
	c.deps.Sessions.InvalidateAllUserSessions(r.Context(), s.UserID, "logout_all", s.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh extiende la sesión si está por vencer; lejos del umbral es no-op.
// Si la reautenticación delegada falla, la sesión muere y responde 401.
func (c *AuthController) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := middlewares.GetSession(r.Context())
	if !ok {
		apierrors.WriteError(w, apierrors.ErrSessionMissing)
		return
	}
	if !c.deps.Sessions.RefreshSession(r.Context(), s.ID) {
		apierrors.WriteError(w, apierrors.ErrSessionInvalid)
		return
	}
	cur, _ := c.deps.Sessions.ValidateSession(r.Context(), s.ID, false)
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"refreshed":  true,
		"expires_at": cur.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

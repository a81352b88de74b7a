package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/http/middlewares"
)

// SessionsController expone las sesiones del usuario autenticado.
type SessionsController struct {
	deps Deps
}

type sessionView struct {
	ID           string `json:"id"`
	DeviceID     string `json:"device_id,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	ExpiresAt    string `json:"expires_at"`
	Current      bool   `json:"current"`
}

// List devuelve las sesiones activas del usuario, la más reciente primero.
func (c *SessionsController) List(w http.ResponseWriter, r *http.Request) {
	cur, _ := middlewares.GetSession(r.Context())

	live := c.deps.Sessions.GetUserSessions(cur.UserID)
	out := make([]sessionView, 0, len(live))
	for _, s := range live {
		out = append(out, sessionView{
			ID:           s.ID,
			DeviceID:     s.Device.DeviceID,
			UserAgent:    s.Device.UserAgent,
			IPAddress:    s.Device.IPAddress,
			CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
			LastActivity: s.LastActivity.UTC().Format(time.RFC3339),
			ExpiresAt:    s.ExpiresAt.UTC().Format(time.RFC3339),
			Current:      s.ID == cur.ID,
		})
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// Revoke invalida una sesión puntual del propio usuario (ej: "cerrar sesión
// en ese otro dispositivo"). Revocar sesiones ajenas es forbidden.
func (c *SessionsController) Revoke(w http.ResponseWriter, r *http.Request) {
	cur, _ := middlewares.GetSession(r.Context())
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("falta el id de sesión"))
		return
	}

	target, ok := c.deps.Sessions.ValidateSession(r.Context(), id, false)
	if !ok {
		apierrors.WriteError(w, apierrors.ErrNotFound)
		return
	}
	if target.UserID != cur.UserID {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}

	c.deps.Sessions.InvalidateSession(r.Context(), id, "revoked_by_user")
	w.WriteHeader(http.StatusNoContent)
}

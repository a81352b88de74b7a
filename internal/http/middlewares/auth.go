package middlewares

import (
	"net/http"
	"strings"

	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/session"
)

// =================================================================================
// AUTHENTICATION MIDDLEWARE
// =================================================================================

// RequireSession valida Authorization: Bearer <session id> contra el Manager
// y guarda la sesión en el contexto. Validar también refresca la actividad
// (timeout deslizante). Token ausente o sesión vencida responden 401.
func RequireSession(mgr *session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := bearerToken(r)
			if id == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				apierrors.WriteError(w, apierrors.ErrSessionMissing)
				return
			}

			s, ok := mgr.ValidateSession(r.Context(), id, true)
			if !ok {
				apierrors.WriteError(w, apierrors.ErrSessionInvalid)
				return
			}
			next.ServeHTTP(w, r.WithContext(setSession(r.Context(), s)))
		})
	}
}

func bearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[len("Bearer "):])
}

package middlewares

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/rate"
)

// CategoryForPath clasifica el request en una categoría de tráfico por el
// prefijo de ruta. Lo que no matchea cae en general.
func CategoryForPath(path string) rate.Category {
	switch {
	case strings.HasPrefix(path, "/v1/auth") || strings.HasPrefix(path, "/v1/mfa"):
		return rate.CategoryAuth
	case strings.HasPrefix(path, "/v1/upload"):
		return rate.CategoryUpload
	case strings.HasPrefix(path, "/v1/chat"):
		return rate.CategoryChat
	case strings.HasPrefix(path, "/v1/admin"):
		return rate.CategoryAdmin
	default:
		return rate.CategoryGeneral
	}
}

// RateLimitConfig configura el middleware de rate limiting.
type RateLimitConfig struct {
	Limiter rate.Limiter

	// Whitelist excluye paths exactos (ej: /healthz, /metrics).
	Whitelist []string
}

// WithRateLimit aplica el límite por (identidad, categoría). La identidad es
// la sesión si el request ya está autenticado, si no la IP del cliente. Un
// request denegado responde 429 con Retry-After y los headers X-RateLimit-*.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, p := range cfg.Whitelist {
		whitelist[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := whitelist[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			// En el router propio este middleware corre antes de la auth, así
			// que la identidad es la IP. Un gateway que lo monte después de
			// validar sesión limita por usuario en vez de por IP.
			identity := ClientIP(r)
			if s, ok := GetSession(r.Context()); ok {
				identity = s.UserID
			}
			category := CategoryForPath(r.URL.Path)

			res := cfg.Limiter.Limit(r.Context(), identity, category)

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				apierrors.WriteError(w, apierrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

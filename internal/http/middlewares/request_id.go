package middlewares

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Middleware es un decorador de http.Handler.
type Middleware func(http.Handler) http.Handler

// WithRequestID genera o propaga un Request ID único por request.
// Si el cliente envía X-Request-ID lo respeta; si no, genera un UUID.
// El ID se expone en el header de respuesta y se inyecta en el contexto.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", rid)
			next.ServeHTTP(w, r.WithContext(setRequestID(r.Context(), rid)))
		})
	}
}

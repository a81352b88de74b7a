package middlewares

import (
	"net/http"
	"runtime/debug"

	"github.com/dcastilla/authcore/internal/http/apierrors"
	"github.com/dcastilla/authcore/internal/observability/logger"
)

// WithRecover convierte panics en 500 con stack logueado. Va siempre el más
// adentro de la cadena transversal para que logging vea el status real.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered",
						logger.Any("panic", rec),
						logger.String("stack", string(debug.Stack())),
					)
					apierrors.WriteError(w, apierrors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

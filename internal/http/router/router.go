// Package router arma el árbol de rutas del core sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcastilla/authcore/internal/http/controllers"
	"github.com/dcastilla/authcore/internal/http/middlewares"
	"github.com/dcastilla/authcore/internal/rate"
	"github.com/dcastilla/authcore/internal/session"
)

// Deps son las dependencias del router.
type Deps struct {
	Controllers *controllers.Controllers
	Sessions    *session.Manager

	// Limiter nil desactiva el rate limiting (dev/tests).
	Limiter rate.Limiter

	// Metrics expone /metrics con promhttp cuando está en true.
	Metrics bool
}

// New construye el handler raíz. Orden transversal: request id -> logging ->
// recover -> rate limit; la autenticación es por grupo de rutas.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())
	r.Use(middlewares.WithRateLimit(middlewares.RateLimitConfig{
		Limiter:   d.Limiter,
		Whitelist: []string{"/healthz", "/metrics"},
	}))

	r.Get("/healthz", d.Controllers.Health.Healthz)
	if d.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", d.Controllers.Auth.Login)

		// todo lo demás exige sesión viva
		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireSession(d.Sessions))

			r.Post("/auth/logout", d.Controllers.Auth.Logout)
			r.Post("/auth/logout_all", d.Controllers.Auth.LogoutAll)
			r.Post("/auth/refresh", d.Controllers.Auth.Refresh)

			r.Get("/sessions", d.Controllers.Sessions.List)
			r.Delete("/sessions/{id}", d.Controllers.Sessions.Revoke)

			r.Route("/mfa", func(r chi.Router) {
				r.Post("/enroll", d.Controllers.MFA.Enroll)
				r.Post("/confirm", d.Controllers.MFA.Confirm)
				r.Post("/verify", d.Controllers.MFA.Verify)
				r.Post("/backup/rotate", d.Controllers.MFA.RotateBackupCodes)
				r.Post("/disable", d.Controllers.MFA.Disable)
			})

			r.Get("/admin/stats", d.Controllers.Admin.Stats)
		})
	})

	return r
}

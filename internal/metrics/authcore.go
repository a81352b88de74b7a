package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the security core. Defined in a standalone package to
// avoid import cycles between rate/session and the HTTP layer.

var (
	RateLimitExceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_rate_limit_exceeded_total",
		Help: "Ventanas que cruzaron el límite, por categoría (una por ventana, no por request)",
	}, []string{"category"})

	RateLimitRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_rate_limit_requests_total",
		Help: "Requests evaluados por el rate limiter, por categoría y veredicto",
	}, []string{"category", "allowed"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authcore_sessions_active",
		Help: "Sesiones activas en el store",
	})

	SessionEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_session_evictions_total",
		Help: "Sesiones evictadas por el límite de concurrencia por usuario",
	})

	SessionsExpiredSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_sessions_expired_swept_total",
		Help: "Sesiones expiradas removidas por el sweep de fondo",
	})

	TOTPVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_totp_verifications_total",
		Help: "Verificaciones TOTP por resultado (ok|fail)",
	}, []string{"result"})
)

// Register registers the core metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		RateLimitExceeded,
		RateLimitRequests,
		SessionsActive,
		SessionEvictions,
		SessionsExpiredSwept,
		TOTPVerifications,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

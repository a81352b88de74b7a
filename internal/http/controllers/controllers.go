// Package controllers implementa los handlers HTTP del core. Los controllers
// son capa fina: parsean, delegan en session/mfa/rate y serializan; toda la
// política vive en los services.
package controllers

import (
	"github.com/dcastilla/authcore/internal/domain/repository"
	"github.com/dcastilla/authcore/internal/mfa"
	"github.com/dcastilla/authcore/internal/rate"
	"github.com/dcastilla/authcore/internal/session"
)

// StatsProvider expone las estadísticas del rate limiter. El backend de
// memoria lo implementa; el de Redis no (los contadores viven en el server).
type StatsProvider interface {
	Stats() rate.Stats
}

// Deps agrupa los colaboradores de todos los controllers.
type Deps struct {
	Sessions  *session.Manager
	MFA       *mfa.Service
	Creds     repository.CredentialStore
	RateStats StatsProvider // opcional
}

// Controllers agrupa los handlers listos para rutear.
type Controllers struct {
	Auth     *AuthController
	MFA      *MFAController
	Sessions *SessionsController
	Admin    *AdminController
	Health   *HealthController
}

// New arma todos los controllers con las dependencias dadas.
func New(d Deps) *Controllers {
	return &Controllers{
		Auth:     &AuthController{deps: d},
		MFA:      &MFAController{deps: d},
		Sessions: &SessionsController{deps: d},
		Admin:    &AdminController{deps: d},
		Health:   &HealthController{},
	}
}

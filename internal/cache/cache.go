// Package cache provee un cache de corta vida con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para despliegues multi-instancia)
//
// El core lo usa para estado transitorio de enrolamiento MFA (secretos
// pendientes de confirmación), nunca como store autoritativo.
package cache

import (
	"context"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key. Borrar una key inexistente no es error.
	Delete(ctx context.Context, key string) error

	// Close libera recursos del backend.
	Close() error
}

// ErrNotFound indica que la key no existe.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "cache: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver string // "memory" | "redis"
	Addr   string
	DB     int
	Prefix string // prefijo para todas las keys
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) Client {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg.Addr, cfg.DB, cfg.Prefix)
	default:
		return NewMemory()
	}
}

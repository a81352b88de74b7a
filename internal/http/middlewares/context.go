// Package middlewares contiene los decoradores HTTP transversales: request id,
// logging estructurado, recover, rate limiting por categoría y autenticación
// por sesión.
package middlewares

import (
	"context"

	"github.com/dcastilla/authcore/internal/session"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeySession
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

// GetRequestID retorna el request id del contexto, o "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func setSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// GetSession retorna la sesión autenticada del contexto.
// Solo existe río abajo de RequireSession.
func GetSession(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(ctxKeySession).(session.Session)
	return s, ok
}

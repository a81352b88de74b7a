// Package audit defines the event sink consumed by the security core.
// Recording is best-effort: a sink that fails must never block or fail the
// calling operation, so implementations swallow their own errors.
package audit

import (
	"context"
	"time"

	"github.com/dcastilla/authcore/internal/observability/logger"
	"go.uber.org/zap"
)

// Severity clasifica eventos de seguridad.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Sink recibe eventos de auth y de seguridad. Las implementaciones deben ser
// fire-and-forget desde la perspectiva del caller.
type Sink interface {
	// RecordAuthEvent registra una acción de autenticación (login, logout,
	// session_created, etc.). userID e ipAddress pueden ser vacíos.
	RecordAuthEvent(ctx context.Context, action, userID string, metadata map[string]any, ipAddress string)

	// RecordSecurityEvent registra un hallazgo de seguridad (evicción por
	// límite de concurrencia, actividad sospechosa, rate limit excedido).
	RecordSecurityEvent(ctx context.Context, eventType string, severity Severity, details map[string]any, userID, ipAddress string)
}

// ZapSink escribe los eventos como logs estructurados.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink crea un sink respaldado por el logger dado.
// Si l es nil usa el singleton del proceso.
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = logger.Named("audit")
	}
	return &ZapSink{log: l}
}

func (s *ZapSink) RecordAuthEvent(ctx context.Context, action, userID string, metadata map[string]any, ipAddress string) {
	fields := []zap.Field{
		zap.String("event", "auth"),
		zap.String("action", action),
		zap.Time("ts", time.Now().UTC()),
	}
	if userID != "" {
		fields = append(fields, logger.UserID(userID))
	}
	if ipAddress != "" {
		fields = append(fields, logger.ClientIP(ipAddress))
	}
	if len(metadata) > 0 {
		fields = append(fields, zap.Any("metadata", metadata))
	}
	s.log.Info("auth_event", fields...)
}

func (s *ZapSink) RecordSecurityEvent(ctx context.Context, eventType string, severity Severity, details map[string]any, userID, ipAddress string) {
	fields := []zap.Field{
		zap.String("event", "security"),
		zap.String("type", eventType),
		logger.Severity(string(severity)),
		zap.Time("ts", time.Now().UTC()),
	}
	if userID != "" {
		fields = append(fields, logger.UserID(userID))
	}
	if ipAddress != "" {
		fields = append(fields, logger.ClientIP(ipAddress))
	}
	if len(details) > 0 {
		fields = append(fields, zap.Any("details", details))
	}
	switch severity {
	case SeverityWarn:
		s.log.Warn("security_event", fields...)
	case SeverityCritical:
		s.log.Error("security_event", fields...)
	default:
		s.log.Info("security_event", fields...)
	}
}

// Nop es un sink que descarta todo. Útil en tests.
type Nop struct{}

func (Nop) RecordAuthEvent(context.Context, string, string, map[string]any, string) {}
func (Nop) RecordSecurityEvent(context.Context, string, Severity, map[string]any, string, string) {
}

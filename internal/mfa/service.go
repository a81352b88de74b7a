// Package mfa orquesta el enrolamiento y la verificación del segundo factor:
// el flujo de dos pasos begin/confirm, la verificación TOTP contra el secreto
// cifrado en reposo y el consumo single-use de backup codes.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/cache"
	"github.com/dcastilla/authcore/internal/domain/repository"
	"github.com/dcastilla/authcore/internal/metrics"
	"github.com/dcastilla/authcore/internal/observability/logger"
	"github.com/dcastilla/authcore/internal/security/secretbox"
	"github.com/dcastilla/authcore/internal/security/token"
	"github.com/dcastilla/authcore/internal/security/totp"
	"go.uber.org/zap"
)

var (
	// ErrNoPendingEnrollment indica que no hay enrolamiento iniciado o que
	// el pendiente expiró.
	ErrNoPendingEnrollment = errors.New("mfa: no pending enrollment")

	// ErrInvalidCode indica que el código TOTP no verificó.
	ErrInvalidCode = errors.New("mfa: invalid code")

	// ErrNotEnrolled indica que el perfil no tiene 2FA habilitado.
	ErrNotEnrolled = errors.New("mfa: totp not enrolled")
)

// DefaultPendingTTL es la vida de un secreto pendiente de confirmación.
const DefaultPendingTTL = 10 * time.Minute

// Enrollment es el material que el caller muestra al usuario durante el
// begin: el secreto en claro (para entrada manual) y la URI otpauth.
type Enrollment struct {
	Secret string
	URI    string
}

// Config configura el Service.
type Config struct {
	// Issuer aparece en la app autenticadora. Default: "authcore".
	Issuer string

	// PendingTTL limita cuánto vive un enrolamiento sin confirmar.
	PendingTTL time.Duration
}

// Service implementa el ciclo de vida del segundo factor. Los secretos en
// reposo viajan cifrados (secretbox); los pendientes viven en el cache de
// corta vida y nunca tocan el credential store hasta confirmarse.
type Service struct {
	cfg   Config
	creds repository.CredentialStore
	box   *secretbox.Box
	cache cache.Client
	sink  audit.Sink
	log   *zap.Logger
	now   func() time.Time
}

// NewService crea el Service. sink nil descarta eventos.
func NewService(cfg Config, creds repository.CredentialStore, box *secretbox.Box, c cache.Client, sink audit.Sink) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "authcore"
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if c == nil {
		c = cache.NewMemory()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		cfg:   cfg,
		creds: creds,
		box:   box,
		cache: c,
		sink:  sink,
		log:   logger.Named("mfa"),
		now:   time.Now,
	}
}

func pendingKey(userID string) string { return "mfa:pending:" + userID }

// BeginEnrollment genera un secreto nuevo y lo deja pendiente de confirmación.
// Reintentar pisa el pendiente anterior; el perfil no se toca hasta Confirm.
func (s *Service) BeginEnrollment(ctx context.Context, userID, email string) (*Enrollment, error) {
	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	// Cifrado también en el cache: un Redis compartido no debe ver secretos
	// en claro.
	sealed, err := s.box.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, pendingKey(userID), sealed, s.cfg.PendingTTL); err != nil {
		return nil, fmt.Errorf("mfa: store pending secret: %w", err)
	}

	s.log.Info("totp enrollment started", logger.UserID(userID))
	s.sink.RecordAuthEvent(ctx, "totp_enrollment_started", userID, map[string]any{
		"email": email,
	}, "")

	return &Enrollment{
		Secret: secret,
		URI:    totp.BuildEnrollmentURI(secret, email, s.cfg.Issuer),
	}, nil
}

// ConfirmEnrollment cierra el enrolamiento: verifica que el usuario cargó el
// secreto (un código válido) y recién entonces persiste el secreto cifrado y
// los backup codes hasheados. Retorna los códigos en claro; es la única vez
// que existen fuera del dispositivo del usuario.
func (s *Service) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	sealed, err := s.cache.Get(ctx, pendingKey(userID))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrNoPendingEnrollment
		}
		return nil, fmt.Errorf("mfa: fetch pending secret: %w", err)
	}
	secret, err := s.box.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("mfa: unseal pending secret: %w", err)
	}

	if !totp.VerifyCodeAt(code, secret, s.now(), totp.DefaultSkew) {
		metrics.TOTPVerifications.WithLabelValues("fail").Inc()
		return nil, ErrInvalidCode
	}
	metrics.TOTPVerifications.WithLabelValues("ok").Inc()

	codes, err := totp.GenerateBackupCodes(totp.DefaultBackupCodes)
	if err != nil {
		return nil, err
	}
	if err := s.creds.UpdateProfileSecurityState(ctx, userID, repository.ProfileSecurityState{
		UserID:      userID,
		TOTPEnabled: true,
		TOTPSecret:  sealed,
		BackupCodes: hashCodes(codes),
	}); err != nil {
		return nil, fmt.Errorf("mfa: persist enrollment: %w", err)
	}
	_ = s.cache.Delete(ctx, pendingKey(userID))

	s.log.Info("totp enrollment confirmed", logger.UserID(userID))
	s.sink.RecordAuthEvent(ctx, "totp_enabled", userID, map[string]any{
		"backup_codes": len(codes),
	}, "")
	return codes, nil
}

// VerifyTOTP verifica un código contra el secreto del perfil. Un código malo
// es (false, nil); los errores son fallas del colaborador o estado corrupto.
func (s *Service) VerifyTOTP(ctx context.Context, email, code string) (bool, error) {
	state, err := s.creds.GetProfileSecurityState(ctx, email)
	if err != nil {
		return false, err
	}
	if !state.TOTPEnabled || state.TOTPSecret == "" {
		return false, ErrNotEnrolled
	}
	secret, err := s.box.Decrypt(state.TOTPSecret)
	if err != nil {
		return false, fmt.Errorf("mfa: unseal secret: %w", err)
	}

	ok := totp.VerifyCodeAt(code, secret, s.now(), totp.DefaultSkew)
	if ok {
		metrics.TOTPVerifications.WithLabelValues("ok").Inc()
	} else {
		metrics.TOTPVerifications.WithLabelValues("fail").Inc()
		s.log.Warn("totp verification failed", logger.UserID(state.UserID))
		s.sink.RecordSecurityEvent(ctx, "totp_verification_failed", audit.SeverityWarn, map[string]any{
			"email": email,
		}, state.UserID, "")
	}
	return ok, nil
}

// UseBackupCode consume un backup code. El hash se remueve atómicamente en el
// credential store: el mismo código jamás pasa dos veces, ni en llamadas
// concurrentes.
func (s *Service) UseBackupCode(ctx context.Context, email, code string) (bool, error) {
	state, err := s.creds.GetProfileSecurityState(ctx, email)
	if err != nil {
		return false, err
	}
	if !state.TOTPEnabled {
		return false, ErrNotEnrolled
	}

	used, err := s.creds.ConsumeBackupCode(ctx, state.UserID, hashCode(code))
	if err != nil {
		return false, fmt.Errorf("mfa: consume backup code: %w", err)
	}
	if !used {
		s.sink.RecordSecurityEvent(ctx, "backup_code_rejected", audit.SeverityWarn, map[string]any{
			"email": email,
		}, state.UserID, "")
		return false, nil
	}

	s.log.Info("backup code consumed", logger.UserID(state.UserID))
	s.sink.RecordAuthEvent(ctx, "backup_code_used", state.UserID, map[string]any{
		"remaining": len(state.BackupCodes) - 1,
	}, "")
	return true, nil
}

// RotateBackupCodes invalida el set vigente y emite uno nuevo.
func (s *Service) RotateBackupCodes(ctx context.Context, userID, email string) ([]string, error) {
	state, err := s.creds.GetProfileSecurityState(ctx, email)
	if err != nil {
		return nil, err
	}
	if !state.TOTPEnabled {
		return nil, ErrNotEnrolled
	}

	codes, err := totp.GenerateBackupCodes(totp.DefaultBackupCodes)
	if err != nil {
		return nil, err
	}
	state.BackupCodes = hashCodes(codes)
	if err := s.creds.UpdateProfileSecurityState(ctx, userID, *state); err != nil {
		return nil, fmt.Errorf("mfa: persist rotated codes: %w", err)
	}

	s.sink.RecordAuthEvent(ctx, "backup_codes_rotated", userID, map[string]any{
		"count": len(codes),
	}, "")
	return codes, nil
}

// Disable apaga 2FA: borra secreto, backup codes y cualquier pendiente.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if err := s.creds.UpdateProfileSecurityState(ctx, userID, repository.ProfileSecurityState{
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("mfa: disable: %w", err)
	}
	_ = s.cache.Delete(ctx, pendingKey(userID))

	s.log.Info("totp disabled", logger.UserID(userID))
	s.sink.RecordSecurityEvent(ctx, "totp_disabled", audit.SeverityInfo, nil, userID, "")
	return nil
}

// hashCode normaliza y hashea un backup code para comparar contra el set en
// reposo. Mismo criterio de normalización que la verificación pura.
func hashCode(code string) string {
	return token.SHA256Base64URL(normalize(code))
}

func hashCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, hashCode(c))
	}
	return out
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '-':
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

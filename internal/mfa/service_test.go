package mfa

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/cache"
	"github.com/dcastilla/authcore/internal/domain/repository"
	"github.com/dcastilla/authcore/internal/security/secretbox"
	"github.com/dcastilla/authcore/internal/security/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	auth     []string
	security []string
}

func (s *recordingSink) RecordAuthEvent(_ context.Context, action, _ string, _ map[string]any, _ string) {
	s.mu.Lock()
	s.auth = append(s.auth, action)
	s.mu.Unlock()
}

func (s *recordingSink) RecordSecurityEvent(_ context.Context, eventType string, _ audit.Severity, _ map[string]any, _, _ string) {
	s.mu.Lock()
	s.security = append(s.security, eventType)
	s.mu.Unlock()
}

func (s *recordingSink) securityCount(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.security {
		if e == eventType {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, cfg Config) (*Service, *repository.Memory, *recordingSink, time.Time) {
	t.Helper()
	box, err := secretbox.New(strings.Repeat("k", 32))
	require.NoError(t, err)

	creds := repository.NewMemory()
	creds.Seed("u1", "ana@example.com")

	sink := &recordingSink{}
	svc := NewService(cfg, creds, box, cache.NewMemory(), sink)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }
	return svc, creds, sink, now
}

// enroll completa begin+confirm y retorna los backup codes en claro.
func enroll(t *testing.T, svc *Service, now time.Time) ([]string, string) {
	t.Helper()
	ctx := context.Background()
	enr, err := svc.BeginEnrollment(ctx, "u1", "ana@example.com")
	require.NoError(t, err)

	code, err := totp.CodeAt(enr.Secret, now)
	require.NoError(t, err)
	codes, err := svc.ConfirmEnrollment(ctx, "u1", code)
	require.NoError(t, err)
	return codes, enr.Secret
}

func TestEnrollmentFlow(t *testing.T) {
	t.Parallel()
	svc, creds, _, now := newTestService(t, Config{Issuer: "Portal Docs"})
	ctx := context.Background()

	enr, err := svc.BeginEnrollment(ctx, "u1", "ana@example.com")
	require.NoError(t, err)
	assert.Len(t, enr.Secret, 32, "20 bytes => 32 chars base32")
	assert.Contains(t, enr.URI, "otpauth://totp/")
	assert.Contains(t, enr.URI, "issuer=Portal+Docs")

	// el perfil no se toca hasta confirmar
	state, err := creds.GetProfileSecurityState(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, state.TOTPEnabled)

	code, err := totp.CodeAt(enr.Secret, now)
	require.NoError(t, err)
	codes, err := svc.ConfirmEnrollment(ctx, "u1", code)
	require.NoError(t, err)
	require.Len(t, codes, totp.DefaultBackupCodes)

	state, err = creds.GetProfileSecurityState(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, state.TOTPEnabled)
	assert.Len(t, state.BackupCodes, totp.DefaultBackupCodes)
	for i, h := range state.BackupCodes {
		assert.NotEqual(t, codes[i], h, "los códigos nunca se guardan en claro")
	}

	// el secreto en reposo está cifrado, no en claro
	assert.NotEqual(t, enr.Secret, state.TOTPSecret)
	plain, err := svc.box.Decrypt(state.TOTPSecret)
	require.NoError(t, err)
	assert.Equal(t, enr.Secret, plain)

	// confirmado, el pendiente ya no existe
	_, err = svc.ConfirmEnrollment(ctx, "u1", code)
	assert.ErrorIs(t, err, ErrNoPendingEnrollment)
}

func TestConfirm_BadCodeKeepsPending(t *testing.T) {
	t.Parallel()
	svc, creds, _, now := newTestService(t, Config{})
	ctx := context.Background()

	enr, err := svc.BeginEnrollment(ctx, "u1", "ana@example.com")
	require.NoError(t, err)

	_, err = svc.ConfirmEnrollment(ctx, "u1", "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	state, _ := creds.GetProfileSecurityState(ctx, "ana@example.com")
	assert.False(t, state.TOTPEnabled, "un código malo no habilita nada")

	// el pendiente sobrevive: reintento con código válido cierra el flujo
	code, err := totp.CodeAt(enr.Secret, now)
	require.NoError(t, err)
	_, err = svc.ConfirmEnrollment(ctx, "u1", code)
	assert.NoError(t, err)
}

func TestConfirm_WithoutBegin(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t, Config{})
	_, err := svc.ConfirmEnrollment(context.Background(), "u1", "123456")
	assert.ErrorIs(t, err, ErrNoPendingEnrollment)
}

func TestConfirm_PendingExpires(t *testing.T) {
	t.Parallel()
	svc, _, _, now := newTestService(t, Config{PendingTTL: 20 * time.Millisecond})
	ctx := context.Background()

	enr, err := svc.BeginEnrollment(ctx, "u1", "ana@example.com")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	code, _ := totp.CodeAt(enr.Secret, now)
	_, err = svc.ConfirmEnrollment(ctx, "u1", code)
	assert.ErrorIs(t, err, ErrNoPendingEnrollment)
}

func TestVerifyTOTP(t *testing.T) {
	t.Parallel()
	svc, _, sink, now := newTestService(t, Config{})
	ctx := context.Background()
	_, secret := enroll(t, svc, now)

	code, err := totp.CodeAt(secret, now)
	require.NoError(t, err)
	ok, err := svc.VerifyTOTP(ctx, "ana@example.com", code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyTOTP(ctx, "ana@example.com", "000000")
	require.NoError(t, err, "un código malo es un false, no un error")
	assert.False(t, ok)
	assert.Equal(t, 1, sink.securityCount("totp_verification_failed"))

	_, err = svc.VerifyTOTP(ctx, "nadie@example.com", code)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVerifyTOTP_NotEnrolled(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t, Config{})
	_, err := svc.VerifyTOTP(context.Background(), "ana@example.com", "123456")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestUseBackupCode_SingleUse(t *testing.T) {
	t.Parallel()
	svc, creds, sink, now := newTestService(t, Config{})
	ctx := context.Background()
	codes, _ := enroll(t, svc, now)
	require.Len(t, codes, 10)

	// primer uso pasa, insensible a formato
	ok, err := svc.UseBackupCode(ctx, "ana@example.com", strings.ToLower(codes[0]))
	require.NoError(t, err)
	assert.True(t, ok)

	// segundo uso del mismo código falla; quedan 9
	ok, err = svc.UseBackupCode(ctx, "ana@example.com", codes[0])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, sink.securityCount("backup_code_rejected"))

	state, _ := creds.GetProfileSecurityState(ctx, "ana@example.com")
	assert.Len(t, state.BackupCodes, 9)

	// los otros 9 siguen vigentes
	ok, err = svc.UseBackupCode(ctx, "ana@example.com", codes[5])
	require.NoError(t, err)
	assert.True(t, ok)
}

// El consumo es atómico: N intentos concurrentes con el mismo código dejan
// pasar exactamente a uno.
func TestUseBackupCode_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	svc, creds, _, now := newTestService(t, Config{})
	ctx := context.Background()
	codes, _ := enroll(t, svc, now)

	const attempts = 16
	var wg sync.WaitGroup
	var accepted int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.UseBackupCode(ctx, "ana@example.com", codes[0])
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted, "dos usos concurrentes del mismo código no pueden pasar ambos")
	state, _ := creds.GetProfileSecurityState(ctx, "ana@example.com")
	assert.Len(t, state.BackupCodes, totp.DefaultBackupCodes-1)
}

func TestRotateBackupCodes(t *testing.T) {
	t.Parallel()
	svc, _, _, now := newTestService(t, Config{})
	ctx := context.Background()
	old, _ := enroll(t, svc, now)

	fresh, err := svc.RotateBackupCodes(ctx, "u1", "ana@example.com")
	require.NoError(t, err)
	require.Len(t, fresh, totp.DefaultBackupCodes)

	ok, err := svc.UseBackupCode(ctx, "ana@example.com", old[0])
	require.NoError(t, err)
	assert.False(t, ok, "la rotación invalida el set anterior")

	ok, err = svc.UseBackupCode(ctx, "ana@example.com", fresh[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisable(t *testing.T) {
	t.Parallel()
	svc, creds, _, now := newTestService(t, Config{})
	ctx := context.Background()
	enroll(t, svc, now)

	require.NoError(t, svc.Disable(ctx, "u1"))

	state, err := creds.GetProfileSecurityState(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, state.TOTPEnabled)
	assert.Empty(t, state.TOTPSecret)
	assert.Empty(t, state.BackupCodes)

	_, err = svc.VerifyTOTP(ctx, "ana@example.com", "123456")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

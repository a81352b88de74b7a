// Package repository define las interfaces hacia los colaboradores externos
// del core de seguridad. Las implementaciones (Supabase, SQL, etc.) viven
// fuera de este módulo; acá solo se fija el contrato.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound indica que el perfil no existe.
var ErrNotFound = errors.New("repository: not found")

// ProfileSecurityState es el estado 2FA de un perfil.
type ProfileSecurityState struct {
	UserID string

	// TOTPEnabled indica si el usuario completó el enrolamiento.
	TOTPEnabled bool

	// TOTPSecret es el secreto Base32 cifrado en reposo (secretbox).
	// Vacío cuando 2FA está deshabilitado.
	TOTPSecret string

	// BackupCodes son los hashes (sha256 base64url) de los códigos de
	// recuperación vigentes. Cada uso exitoso remueve el hash del set.
	BackupCodes []string
}

// CredentialStore es el colaborador que posee los perfiles y la credencial
// primaria. El core nunca ve passwords: la reautenticación es delegada.
type CredentialStore interface {
	// GetProfileSecurityState retorna el estado 2FA del perfil.
	// Retorna ErrNotFound si el email no existe.
	GetProfileSecurityState(ctx context.Context, email string) (*ProfileSecurityState, error)

	// UpdateProfileSecurityState reemplaza el estado 2FA del usuario.
	// Se usa para habilitar/deshabilitar TOTP y rotar backup codes.
	UpdateProfileSecurityState(ctx context.Context, userID string, state ProfileSecurityState) error

	// ConsumeBackupCode remueve atómicamente el hash dado del set del
	// usuario. Retorna true solo si el hash existía: dos llamadas
	// concurrentes con el mismo código no pueden retornar true ambas.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)

	// Reauthenticate revalida la credencial primaria del usuario contra el
	// proveedor de identidad externo. Usado por el refresh de sesión.
	Reauthenticate(ctx context.Context, userID string) (bool, error)
}

package repository

import (
	"context"
	"sync"
)

// Memory es un CredentialStore en memoria para desarrollo y tests.
// El deployment real inyecta la implementación contra el proveedor de
// identidad; este store solo honra el contrato (incluida la atomicidad de
// ConsumeBackupCode).
type Memory struct {
	mu          sync.Mutex
	byEmail     map[string]*ProfileSecurityState
	emailByUser map[string]string

	// ReauthOK controla la respuesta de Reauthenticate.
	ReauthOK bool
}

// NewMemory crea un store vacío que acepta reautenticaciones.
func NewMemory() *Memory {
	return &Memory{
		byEmail:     make(map[string]*ProfileSecurityState),
		emailByUser: make(map[string]string),
		ReauthOK:    true,
	}
}

// Seed registra un perfil sin 2FA.
func (m *Memory) Seed(userID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[email] = &ProfileSecurityState{UserID: userID}
	m.emailByUser[userID] = email
}

func (m *Memory) GetProfileSecurityState(_ context.Context, email string) (*ProfileSecurityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.BackupCodes = append([]string(nil), s.BackupCodes...)
	return &cp, nil
}

func (m *Memory) UpdateProfileSecurityState(_ context.Context, userID string, state ProfileSecurityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emailByUser[userID]
	if !ok {
		return ErrNotFound
	}
	state.UserID = userID
	state.BackupCodes = append([]string(nil), state.BackupCodes...)
	m.byEmail[email] = &state
	return nil
}

// ConsumeBackupCode remueve el hash bajo el lock del store: dos llamadas
// concurrentes con el mismo código no pueden retornar true ambas.
func (m *Memory) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emailByUser[userID]
	if !ok {
		return false, ErrNotFound
	}
	s := m.byEmail[email]
	for i, h := range s.BackupCodes {
		if h == hash {
			s.BackupCodes = append(s.BackupCodes[:i], s.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Reauthenticate(context.Context, string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReauthOK, nil
}

// Package session es el dueño autoritativo de "este caller está autenticado":
// sesiones en memoria con timeout deslizante, límite de concurrencia por
// usuario con evicción LRU, detección de anomalías no bloqueante y barrido de
// expiradas en background.
package session

import (
	"time"
)

// DeviceInfo es la huella del dispositivo/navegador de una sesión.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
	DeviceID  string
}

// Session representa un contexto autenticado de un dispositivo.
// Es propiedad exclusiva del store del Manager durante su vida; los callers
// reciben copias.
type Session struct {
	ID           string
	UserID       string
	Email        string
	Device       DeviceInfo
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	Active       bool
}

// ExpiredAt reporta si la sesión está vencida en el instante dado.
// Una sesión vencida es inválida aunque el sweep todavía no la haya removido.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store guarda las sesiones vivas. Las implementaciones no necesitan ser
// thread-safe: el Manager serializa todo acceso bajo su propio lock para que
// las secuencias compuestas (count-then-evict-then-insert) no se intercalen.
//
// El default en memoria asume una única instancia autoritativa; promover esto
// a un store compartido es trabajo futuro explícito, no un supuesto.
type Store interface {
	Save(s *Session)
	Get(id string) (*Session, bool)
	Delete(id string) (*Session, bool)
	ForUser(userID string) []*Session
	All() []*Session
	Count() int
}

// memStore es el Store por defecto: un mapa plano.
type memStore struct {
	byID map[string]*Session
}

// NewMemoryStore crea el store en memoria por defecto.
func NewMemoryStore() Store {
	return &memStore{byID: make(map[string]*Session)}
}

func (m *memStore) Save(s *Session) { m.byID[s.ID] = s }

func (m *memStore) Get(id string) (*Session, bool) {
	s, ok := m.byID[id]
	return s, ok
}

func (m *memStore) Delete(id string) (*Session, bool) {
	s, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
	}
	return s, ok
}

func (m *memStore) ForUser(userID string) []*Session {
	var out []*Session
	for _, s := range m.byID {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memStore) All() []*Session {
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}

func (m *memStore) Count() int { return len(m.byID) }

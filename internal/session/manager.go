package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/domain/repository"
	"github.com/dcastilla/authcore/internal/metrics"
	"github.com/dcastilla/authcore/internal/observability/logger"
	"github.com/dcastilla/authcore/internal/security/token"
	"go.uber.org/zap"
)

// Config configura el Manager.
type Config struct {
	// Timeout es la vida de una sesión desde su creación/extensión.
	// Default: 30 minutos.
	Timeout time.Duration

	// MaxPerUser es el máximo de sesiones activas concurrentes por usuario;
	// la N+1 evicta a la menos recientemente activa. Default: 3.
	MaxPerUser int

	// RefreshThreshold: RefreshSession solo actúa si faltan menos de esto
	// para el vencimiento. Default: 5 minutos.
	RefreshThreshold time.Duration

	// SweepInterval es el período del barrido de expiradas. Default: 2 minutos.
	SweepInterval time.Duration

	// SuspiciousWindow y SuspiciousMax definen la heurística de creación en
	// ráfaga: más de SuspiciousMax sesiones creadas dentro de la ventana
	// emiten un evento WARN. Defaults: 5 minutos / 2.
	SuspiciousWindow time.Duration
	SuspiciousMax    int
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = 3
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Minute
	}
	if c.SuspiciousWindow <= 0 {
		c.SuspiciousWindow = 5 * time.Minute
	}
	if c.SuspiciousMax <= 0 {
		c.SuspiciousMax = 2
	}
}

// Stats es una foto puntual del store de sesiones.
type Stats struct {
	Active      int
	UniqueUsers int
}

// Manager implementa el ciclo de vida de sesiones. Todas las mutaciones del
// store pasan por un único mutex; las llamadas a colaboradores externos
// (reauth, audit) ocurren fuera de la sección crítica.
type Manager struct {
	mu    sync.Mutex
	store Store
	// recentByUser guarda timestamps de creación para la heurística de ráfaga.
	recentByUser map[string][]time.Time

	cfg   Config
	creds repository.CredentialStore
	sink  audit.Sink
	log   *zap.Logger
	now   func() time.Time

	stop  chan struct{}
	done  chan struct{}
	start sync.Once
	halt  sync.Once
}

// NewManager crea un Manager. store nil usa el de memoria; sink nil descarta;
// creds puede ser nil si nunca se va a refrescar.
func NewManager(cfg Config, store Store, creds repository.CredentialStore, sink audit.Sink) *Manager {
	cfg.setDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Manager{
		store:        store,
		recentByUser: make(map[string][]time.Time),
		cfg:          cfg,
		creds:        creds,
		sink:         sink,
		log:          logger.Named("session"),
		now:          time.Now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// CreateSession crea una sesión para el usuario ya autenticado (credencial y
// TOTP verificados por el caller). Si el usuario supera el máximo de sesiones
// concurrentes, evicta la menos recientemente activa antes de insertar. La
// detección de anomalías corre sobre la nueva huella pero nunca bloquea la
// creación.
func (m *Manager) CreateSession(ctx context.Context, userID, email string, dev DeviceInfo) (string, error) {
	id, err := token.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("session: id generation: %w", err)
	}
	now := m.now()
	s := &Session{
		ID:           id,
		UserID:       userID,
		Email:        email,
		Device:       dev,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.cfg.Timeout),
		Active:       true,
	}

	var evicted *Session
	var knownIPs []string
	var recentCreations int

	m.mu.Lock()
	existing := m.store.ForUser(userID)
	if len(existing) >= m.cfg.MaxPerUser {
		evicted = leastRecentlyActive(existing)
		evicted.Active = false
		m.store.Delete(evicted.ID)
	}
	for _, e := range existing {
		if e != evicted {
			knownIPs = append(knownIPs, e.Device.IPAddress)
		}
	}
	m.store.Save(s)

	recent := pruneOlder(m.recentByUser[userID], now.Add(-m.cfg.SuspiciousWindow))
	recent = append(recent, now)
	m.recentByUser[userID] = recent
	recentCreations = len(recent)
	total := m.store.Count()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(total))

	if evicted != nil {
		metrics.SessionEvictions.Inc()
		m.log.Warn("session evicted by concurrency cap",
			logger.UserID(userID),
			logger.SessionID(mask(evicted.ID)),
			zap.Duration("lived", now.Sub(evicted.CreatedAt)),
		)
		m.sink.RecordSecurityEvent(ctx, "session_evicted", audit.SeverityWarn, map[string]any{
			"evicted_session": mask(evicted.ID),
			"max_per_user":    m.cfg.MaxPerUser,
			"last_activity":   evicted.LastActivity.UTC(),
		}, userID, dev.IPAddress)
	}

	m.reportAnomalies(ctx, userID, dev, knownIPs, recentCreations)

	m.sink.RecordAuthEvent(ctx, "session_created", userID, map[string]any{
		"email":      email,
		"device_id":  dev.DeviceID,
		"user_agent": dev.UserAgent,
		"expires_at": s.ExpiresAt.UTC(),
	}, dev.IPAddress)

	return id, nil
}

// ValidateSession resuelve el id a una sesión viva. "No existe" y "expiró"
// son ausencias esperadas, no errores; una sesión expirada se invalida como
// efecto colateral (transición terminal explícita, no un fail silencioso).
// Con updateActivity, refresca lastActivity.
func (m *Manager) ValidateSession(ctx context.Context, id string, updateActivity bool) (Session, bool) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.store.Get(id)
	if !ok {
		m.mu.Unlock()
		return Session{}, false
	}
	if s.ExpiredAt(now) {
		s.Active = false
		m.store.Delete(id)
		total := m.store.Count()
		m.mu.Unlock()

		metrics.SessionsActive.Set(float64(total))
		m.emitInvalidated(ctx, s, "expired", now)
		return Session{}, false
	}
	if updateActivity {
		s.LastActivity = now
	}
	snapshot := *s
	m.mu.Unlock()

	return snapshot, true
}

// RefreshSession extiende la sesión si está por vencer. Lejos del umbral es
// un no-op idempotente que retorna true. Cerca del umbral revalida la
// credencial contra el colaborador externo (fuera del lock); si la
// reautenticación falla, la sesión se invalida y retorna false.
func (m *Manager) RefreshSession(ctx context.Context, id string) bool {
	now := m.now()

	m.mu.Lock()
	s, ok := m.store.Get(id)
	if !ok || s.ExpiredAt(now) {
		m.mu.Unlock()
		return false
	}
	if s.ExpiresAt.Sub(now) >= m.cfg.RefreshThreshold {
		m.mu.Unlock()
		return true
	}
	userID := s.UserID
	m.mu.Unlock()

	ok = false
	var err error
	if m.creds != nil {
		ok, err = m.creds.Reauthenticate(ctx, userID)
	}
	if err != nil || !ok {
		if err != nil {
			m.log.Error("session refresh reauthentication failed", logger.UserID(userID), logger.Err(err))
		}
		m.InvalidateSession(ctx, id, "refresh_failed")
		return false
	}

	m.mu.Lock()
	s, stillThere := m.store.Get(id)
	if !stillThere {
		m.mu.Unlock()
		return false
	}
	s.LastActivity = now
	s.ExpiresAt = now.Add(m.cfg.Timeout)
	newExpiry := s.ExpiresAt
	m.mu.Unlock()

	m.sink.RecordAuthEvent(ctx, "session_refreshed", userID, map[string]any{
		"expires_at": newExpiry.UTC(),
	}, "")
	return true
}

// InvalidateSession marca la sesión inactiva, la remueve del store y audita
// duración y si ya estaba vencida. Invalidar un id desconocido es un no-op.
func (m *Manager) InvalidateSession(ctx context.Context, id, reason string) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.store.Delete(id)
	if ok {
		s.Active = false
	}
	total := m.store.Count()
	m.mu.Unlock()

	if !ok {
		return
	}
	metrics.SessionsActive.Set(float64(total))
	m.emitInvalidated(ctx, s, reason, now)
}

// InvalidateAllUserSessions es la variante bulk para respuestas de seguridad
// (ej: cambio de password). exceptID != "" preserva esa sesión.
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID, reason, exceptID string) {
	now := m.now()

	m.mu.Lock()
	var dropped []*Session
	for _, s := range m.store.ForUser(userID) {
		if s.ID == exceptID {
			continue
		}
		s.Active = false
		m.store.Delete(s.ID)
		dropped = append(dropped, s)
	}
	total := m.store.Count()
	m.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	metrics.SessionsActive.Set(float64(total))
	for _, s := range dropped {
		m.emitInvalidated(ctx, s, reason, now)
	}
	m.sink.RecordSecurityEvent(ctx, "sessions_bulk_invalidated", audit.SeverityInfo, map[string]any{
		"reason": reason,
		"count":  len(dropped),
	}, userID, "")
}

// GetUserSessions retorna copias de las sesiones activas del usuario,
// ordenadas por última actividad descendente.
func (m *Manager) GetUserSessions(userID string) []Session {
	m.mu.Lock()
	live := m.store.ForUser(userID)
	out := make([]Session, 0, len(live))
	for _, s := range live {
		out = append(out, *s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// DetectSuspiciousActivity corre la heurística contra la huella dada:
// (a) IP nunca vista entre las sesiones activas del usuario, (b) ráfaga de
// creaciones. Observabilidad pura: emite WARN y retorna el flag, jamás niega
// acceso.
func (m *Manager) DetectSuspiciousActivity(ctx context.Context, userID string, dev DeviceInfo) bool {
	now := m.now()

	m.mu.Lock()
	var knownIPs []string
	for _, s := range m.store.ForUser(userID) {
		knownIPs = append(knownIPs, s.Device.IPAddress)
	}
	recent := pruneOlder(m.recentByUser[userID], now.Add(-m.cfg.SuspiciousWindow))
	m.recentByUser[userID] = recent
	recentCreations := len(recent)
	m.mu.Unlock()

	return m.reportAnomalies(ctx, userID, dev, knownIPs, recentCreations)
}

// Stats retorna una foto del store.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make(map[string]struct{})
	for _, s := range m.store.All() {
		users[s.UserID] = struct{}{}
	}
	return Stats{Active: m.store.Count(), UniqueUsers: len(users)}
}

// Start lanza el barrido periódico de sesiones expiradas. Idempotente.
func (m *Manager) Start() {
	m.start.Do(func() {
		go func() {
			defer close(m.done)
			t := time.NewTicker(m.cfg.SweepInterval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					m.sweepExpired(context.Background())
				case <-m.stop:
					return
				}
			}
		}()
	})
}

// Stop detiene el barrido y espera a que la corrida en curso termine.
func (m *Manager) Stop() {
	m.halt.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// sweepExpired invalida toda sesión con now > expiresAt. Misma disciplina de
// lock que el path de requests; el conteo se reporta en bloque.
func (m *Manager) sweepExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var dropped []*Session
	for _, s := range m.store.All() {
		if s.ExpiredAt(now) {
			s.Active = false
			m.store.Delete(s.ID)
			dropped = append(dropped, s)
		}
	}
	for userID, ts := range m.recentByUser {
		if pruned := pruneOlder(ts, now.Add(-m.cfg.SuspiciousWindow)); len(pruned) == 0 {
			delete(m.recentByUser, userID)
		} else {
			m.recentByUser[userID] = pruned
		}
	}
	total := m.store.Count()
	m.mu.Unlock()

	if len(dropped) > 0 {
		metrics.SessionsActive.Set(float64(total))
		metrics.SessionsExpiredSwept.Add(float64(len(dropped)))
		m.log.Info("expired sessions swept", logger.Count(len(dropped)))
		for _, s := range dropped {
			m.emitInvalidated(ctx, s, "expired_sweep", now)
		}
	}
	return len(dropped)
}

func (m *Manager) reportAnomalies(ctx context.Context, userID string, dev DeviceInfo, knownIPs []string, recentCreations int) bool {
	flagged := false

	if dev.IPAddress != "" && len(knownIPs) > 0 && !contains(knownIPs, dev.IPAddress) {
		flagged = true
		m.log.Warn("login from unseen ip",
			logger.UserID(userID),
			logger.ClientIP(dev.IPAddress),
		)
		m.sink.RecordSecurityEvent(ctx, "new_ip_address", audit.SeverityWarn, map[string]any{
			"known_ips":  len(knownIPs),
			"user_agent": dev.UserAgent,
		}, userID, dev.IPAddress)
	}

	if recentCreations > m.cfg.SuspiciousMax {
		flagged = true
		m.log.Warn("rapid session creation",
			logger.UserID(userID),
			logger.Count(recentCreations),
			zap.Duration("window", m.cfg.SuspiciousWindow),
		)
		m.sink.RecordSecurityEvent(ctx, "rapid_session_creation", audit.SeverityWarn, map[string]any{
			"sessions_in_window": recentCreations,
			"window":             m.cfg.SuspiciousWindow.String(),
		}, userID, dev.IPAddress)
	}

	return flagged
}

func (m *Manager) emitInvalidated(ctx context.Context, s *Session, reason string, now time.Time) {
	m.sink.RecordAuthEvent(ctx, "session_invalidated", s.UserID, map[string]any{
		"reason":      reason,
		"duration":    now.Sub(s.CreatedAt).String(),
		"was_expired": s.ExpiredAt(now),
	}, s.Device.IPAddress)
}

func leastRecentlyActive(sessions []*Session) *Session {
	lru := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastActivity.Before(lru.LastActivity) {
			lru = s
		}
	}
	return lru
}

func pruneOlder(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// mask trunca un session id para logs/auditoría.
func mask(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "…"
}

// Package rate implementa rate limiting fixed-window por (identidad, categoría).
//
// El algoritmo es fixed-window a propósito: contador por ventana fija, sin
// suavizado. Es más simple que sliding-window/token-bucket y suficiente para
// los techos configurados, al costo de permitir hasta 2x de burst en el borde
// de ventana. Los callers dependen de esa semántica exacta; no "mejorar".
package rate

import (
	"context"
	"sync"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/metrics"
	"github.com/dcastilla/authcore/internal/observability/logger"
	"go.uber.org/zap"
)

// Category clasifica el tráfico; cada categoría tiene su techo independiente.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategoryUpload  Category = "upload"
	CategoryChat    Category = "chat"
	CategoryAdmin   Category = "admin"
	CategoryGeneral Category = "general"
)

// Limit es el techo de una categoría: Max requests por Window.
type Limit struct {
	Max    int64
	Window time.Duration
}

// Config configura el limiter en memoria.
type Config struct {
	// Limits por categoría. Una categoría ausente cae en CategoryGeneral.
	Limits map[Category]Limit

	// SweepInterval es el período del barrido de entradas vencidas.
	// Default: 5 minutos.
	SweepInterval time.Duration
}

// DefaultConfig retorna los techos de producción del portal.
func DefaultConfig() Config {
	return Config{
		Limits: map[Category]Limit{
			CategoryAuth:    {Max: 5, Window: 15 * time.Minute},
			CategoryUpload:  {Max: 10, Window: time.Hour},
			CategoryChat:    {Max: 50, Window: 15 * time.Minute},
			CategoryAdmin:   {Max: 20, Window: 15 * time.Minute},
			CategoryGeneral: {Max: 100, Window: 15 * time.Minute},
		},
		SweepInterval: 5 * time.Minute,
	}
}

// Result es el veredicto de una consulta.
type Result struct {
	Allowed     bool
	Remaining   int64
	ResetAt     time.Time
	CurrentHits int64
	// Blocked es el flag sticky: queda en true desde la primera violación
	// hasta que la ventana rota.
	Blocked bool
}

// Stats es una foto puntual para dashboards operacionales.
type Stats struct {
	TotalKeys         int
	ActiveKeys        int
	BlockedKeys       int
	AverageHitsPerKey float64
}

// Limiter es la interfaz que consume el gateway.
type Limiter interface {
	Limit(ctx context.Context, identity string, category Category) Result
}

// entry es el contador de una key dentro de su ventana vigente.
type entry struct {
	hits        int64
	windowStart time.Time
	resetAt     time.Time
	firstHit    time.Time
	blocked     bool
}

// Memory es el limiter autoritativo in-process (default).
// Todas las mutaciones del mapa pasan por un único mutex: el
// increment-and-compare de una key nunca se intercala.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg   Config
	sink  audit.Sink
	log   *zap.Logger
	now   func() time.Time
	stop  chan struct{}
	done  chan struct{}
	start sync.Once
	halt  sync.Once
}

// NewMemory crea un limiter con la config dada. sink puede ser audit.Nop{}.
func NewMemory(cfg Config, sink audit.Sink) *Memory {
	if cfg.Limits == nil {
		cfg.Limits = DefaultConfig().Limits
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Memory{
		entries: make(map[string]*entry),
		cfg:     cfg,
		sink:    sink,
		log:     logger.Named("rate"),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *Memory) limitFor(category Category) Limit {
	if l, ok := m.cfg.Limits[category]; ok {
		return l
	}
	if l, ok := m.cfg.Limits[CategoryGeneral]; ok {
		return l
	}
	return Limit{Max: 100, Window: 15 * time.Minute}
}

// Limit evalúa un request de identity en category.
//
// Primera llamada (o ventana vencida): ventana nueva con count=1. Si no,
// incrementa y compara contra el techo. La primera transición a "denegado"
// dentro de una ventana marca el flag sticky y emite exactamente un evento
// "exceeded"; las violaciones siguientes solo actualizan el contador.
func (m *Memory) Limit(ctx context.Context, identity string, category Category) Result {
	lim := m.limitFor(category)
	key := identity + "|" + string(category)
	now := m.now()

	var res Result
	firstViolation := false

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{
			hits:        1,
			windowStart: now,
			resetAt:     now.Add(lim.Window),
			firstHit:    now,
		}
		m.entries[key] = e
	} else {
		e.hits++
		if e.hits > lim.Max && !e.blocked {
			e.blocked = true
			firstViolation = true
		}
	}
	res = Result{
		Allowed:     e.hits <= lim.Max,
		Remaining:   max64(lim.Max-e.hits, 0),
		ResetAt:     e.resetAt,
		CurrentHits: e.hits,
		Blocked:     e.blocked,
	}
	m.mu.Unlock()

	// Observabilidad fuera de la sección crítica.
	metrics.RateLimitRequests.WithLabelValues(string(category), boolLabel(res.Allowed)).Inc()
	if firstViolation {
		metrics.RateLimitExceeded.WithLabelValues(string(category)).Inc()
		m.log.Warn("rate limit exceeded",
			logger.Identity(identity),
			logger.Category(string(category)),
			logger.Hits(res.CurrentHits),
			zap.Time("reset_at", res.ResetAt),
		)
		m.sink.RecordSecurityEvent(ctx, "rate_limit_exceeded", audit.SeverityWarn, map[string]any{
			"category": string(category),
			"hits":     res.CurrentHits,
			"max":      lim.Max,
			"reset_at": res.ResetAt.UTC(),
		}, "", identity)
	}
	return res
}

// Stats retorna una foto del estado del limiter.
func (m *Memory) Stats() Stats {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{TotalKeys: len(m.entries)}
	var hits int64
	for _, e := range m.entries {
		hits += e.hits
		if now.Before(e.resetAt) {
			s.ActiveKeys++
			if e.blocked {
				s.BlockedKeys++
			}
		}
	}
	if s.TotalKeys > 0 {
		s.AverageHitsPerKey = float64(hits) / float64(s.TotalKeys)
	}
	return s
}

// Start lanza el barrido periódico de entradas vencidas. Idempotente.
func (m *Memory) Start() {
	m.start.Do(func() {
		go func() {
			defer close(m.done)
			t := time.NewTicker(m.cfg.SweepInterval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					m.sweep()
				case <-m.stop:
					return
				}
			}
		}()
	})
}

// Stop detiene el barrido y espera a que termine. Idempotente.
func (m *Memory) Stop() {
	m.halt.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// sweep elimina entradas cuya ventana ya venció, acotando la memoria.
// Misma disciplina de lock que el path de requests.
func (m *Memory) sweep() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.log.Debug("rate entries swept", logger.Count(removed))
	}
	return removed
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

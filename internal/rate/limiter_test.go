package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink cuenta eventos de seguridad por tipo.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) RecordAuthEvent(context.Context, string, string, map[string]any, string) {}

func (s *recordingSink) RecordSecurityEvent(_ context.Context, eventType string, _ audit.Severity, _ map[string]any, _, _ string) {
	s.mu.Lock()
	s.events = append(s.events, eventType)
	s.mu.Unlock()
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// newTestLimiter arma un Memory con reloj controlado y ventana de 1s / max 5.
func newTestLimiter(t *testing.T) (*Memory, *recordingSink, *time.Time) {
	t.Helper()
	sink := &recordingSink{}
	m := NewMemory(Config{
		Limits: map[Category]Limit{
			CategoryGeneral: {Max: 5, Window: time.Second},
			CategoryAuth:    {Max: 2, Window: time.Minute},
		},
	}, sink)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	return m, sink, &now
}

func TestLimit_WindowAndStickyBlock(t *testing.T) {
	t.Parallel()
	m, sink, now := newTestLimiter(t)
	ctx := context.Background()

	// 5 llamadas pasan
	for i := 1; i <= 5; i++ {
		res := m.Limit(ctx, "1.2.3.4", CategoryGeneral)
		require.True(t, res.Allowed, "call %d", i)
		assert.EqualValues(t, i, res.CurrentHits)
		assert.EqualValues(t, 5-i, res.Remaining)
		assert.False(t, res.Blocked)
	}

	// la 6ta es rechazada con flag sticky
	res := m.Limit(ctx, "1.2.3.4", CategoryGeneral)
	require.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.EqualValues(t, 6, res.CurrentHits)
	assert.EqualValues(t, 0, res.Remaining)

	// llamadas 7..10: el contador sigue subiendo pero el evento no se re-emite
	for i := 7; i <= 10; i++ {
		res = m.Limit(ctx, "1.2.3.4", CategoryGeneral)
		assert.False(t, res.Allowed)
		assert.True(t, res.Blocked)
		assert.EqualValues(t, i, res.CurrentHits)
	}
	assert.Equal(t, 1, sink.count("rate_limit_exceeded"), "exactamente un evento por ventana")

	// rotada la ventana: conteo fresco, flag limpio, se puede volver a emitir
	*now = now.Add(1100 * time.Millisecond)
	res = m.Limit(ctx, "1.2.3.4", CategoryGeneral)
	require.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.CurrentHits)
	assert.False(t, res.Blocked)
}

func TestLimit_PerCategoryCeilings(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestLimiter(t)
	ctx := context.Background()

	// auth tiene techo 2, independiente del contador general
	require.True(t, m.Limit(ctx, "1.2.3.4", CategoryAuth).Allowed)
	require.True(t, m.Limit(ctx, "1.2.3.4", CategoryAuth).Allowed)
	require.False(t, m.Limit(ctx, "1.2.3.4", CategoryAuth).Allowed)

	res := m.Limit(ctx, "1.2.3.4", CategoryGeneral)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.CurrentHits, "categorías no comparten ventana")
}

func TestLimit_UnknownCategoryFallsBackToGeneral(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestLimiter(t)
	res := m.Limit(context.Background(), "k", Category("does-not-exist"))
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 4, res.Remaining) // techo general de 5
}

func TestLimit_ResetAt(t *testing.T) {
	t.Parallel()
	m, _, now := newTestLimiter(t)
	res := m.Limit(context.Background(), "k", CategoryGeneral)
	assert.Equal(t, now.Add(time.Second), res.ResetAt)
}

func TestStats(t *testing.T) {
	t.Parallel()
	m, _, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.Limit(ctx, "blocked-ip", CategoryGeneral)
	}
	m.Limit(ctx, "quiet-ip", CategoryGeneral)

	s := m.Stats()
	assert.Equal(t, 2, s.TotalKeys)
	assert.Equal(t, 2, s.ActiveKeys)
	assert.Equal(t, 1, s.BlockedKeys)
	assert.InDelta(t, 3.5, s.AverageHitsPerKey, 0.001) // (6+1)/2

	// vencida la ventana, las keys dejan de contar como activas
	*now = now.Add(2 * time.Second)
	s = m.Stats()
	assert.Equal(t, 2, s.TotalKeys)
	assert.Equal(t, 0, s.ActiveKeys)
	assert.Equal(t, 0, s.BlockedKeys)
}

func TestSweep(t *testing.T) {
	t.Parallel()
	m, _, now := newTestLimiter(t)
	ctx := context.Background()

	m.Limit(ctx, "old", CategoryGeneral)       // ventana de 1s
	*now = now.Add(500 * time.Millisecond)
	m.Limit(ctx, "fresh", CategoryAuth)        // ventana de 1m

	*now = now.Add(600 * time.Millisecond)     // "old" venció, "fresh" no
	removed := m.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Stats().TotalKeys)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	m := NewMemory(Config{SweepInterval: 10 * time.Millisecond}, audit.Nop{})
	m.Start()
	m.Start() // idempotente
	m.Stop()
	m.Stop() // idempotente
}

// El increment-and-compare no se intercala: con max=50 y 100 requests
// concurrentes, exactamente 50 se permiten.
func TestLimit_ConcurrentExactCeiling(t *testing.T) {
	t.Parallel()
	m := NewMemory(Config{
		Limits: map[Category]Limit{CategoryGeneral: {Max: 50, Window: time.Minute}},
	}, audit.Nop{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Limit(ctx, "same-key", CategoryGeneral).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

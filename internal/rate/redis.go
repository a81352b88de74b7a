package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/metrics"
	"github.com/dcastilla/authcore/internal/observability/logger"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis es el backing distribuido para despliegues multi-instancia
// (fixed window sencillo: INCR + EXPIRE, una key por ventana).
// El default del core sigue siendo Memory; este adapter existe para promover
// los contadores a un store compartido sin cambiar a los callers.
type Redis struct {
	client *rdb.Client
	prefix string
	cfg    Config
	sink   audit.Sink
	log    *zap.Logger
}

// NewRedis crea un limiter respaldado por Redis.
func NewRedis(client *rdb.Client, prefix string, cfg Config, sink audit.Sink) *Redis {
	if prefix == "" {
		prefix = "rl:"
	}
	if cfg.Limits == nil {
		cfg.Limits = DefaultConfig().Limits
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Redis{
		client: client,
		prefix: prefix,
		cfg:    cfg,
		sink:   sink,
		log:    logger.Named("rate.redis"),
	}
}

func (r *Redis) limitFor(category Category) Limit {
	if l, ok := r.cfg.Limits[category]; ok {
		return l
	}
	if l, ok := r.cfg.Limits[CategoryGeneral]; ok {
		return l
	}
	return Limit{Max: 100, Window: 15 * time.Minute}
}

// Limit evalúa un request. Ante un error de backend hace fail-open: denegar
// tráfico legítimo porque Redis está caído sería peor que el burst extra.
func (r *Redis) Limit(ctx context.Context, identity string, category Category) Result {
	lim := r.limitFor(category)
	now := time.Now().UTC()
	winStart := now.Truncate(lim.Window)
	resetAt := winStart.Add(lim.Window)
	key := fmt.Sprintf("%s%s|%s:%d", r.prefix, strings.ReplaceAll(identity, " ", "_"), category, winStart.Unix())

	hits, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.log.Warn("redis limiter unavailable, failing open", logger.Err(err))
		return Result{Allowed: true, Remaining: lim.Max, ResetAt: resetAt, CurrentHits: 0}
	}
	if hits == 1 {
		// La key expira sola al rotar la ventana; no hay sweep que correr.
		_ = r.client.Expire(ctx, key, lim.Window).Err()
	}

	res := Result{
		Allowed:     hits <= lim.Max,
		Remaining:   max64(lim.Max-hits, 0),
		ResetAt:     resetAt,
		CurrentHits: hits,
		Blocked:     hits > lim.Max,
	}

	metrics.RateLimitRequests.WithLabelValues(string(category), boolLabel(res.Allowed)).Inc()
	// INCR retorna el conteo exacto: hits == max+1 identifica la primera
	// violación de la ventana sin estado adicional, así el evento se emite
	// una sola vez aunque haya varias instancias.
	if hits == lim.Max+1 {
		metrics.RateLimitExceeded.WithLabelValues(string(category)).Inc()
		r.log.Warn("rate limit exceeded",
			logger.Identity(identity),
			logger.Category(string(category)),
			logger.Hits(hits),
		)
		r.sink.RecordSecurityEvent(ctx, "rate_limit_exceeded", audit.SeverityWarn, map[string]any{
			"category": string(category),
			"hits":     hits,
			"max":      lim.Max,
			"reset_at": resetAt,
		}, "", identity)
	}
	return res
}

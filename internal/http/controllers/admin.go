package controllers

import (
	"net/http"

	"github.com/dcastilla/authcore/internal/http/apierrors"
)

// AdminController expone estadísticas operativas del core.
type AdminController struct {
	deps Deps
}

// Stats devuelve una foto de sesiones y rate limiter.
func (c *AdminController) Stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}

	ss := c.deps.Sessions.Stats()
	body["sessions"] = map[string]any{
		"active":       ss.Active,
		"unique_users": ss.UniqueUsers,
	}

	if c.deps.RateStats != nil {
		rs := c.deps.RateStats.Stats()
		body["rate"] = map[string]any{
			"total_keys":           rs.TotalKeys,
			"active_keys":          rs.ActiveKeys,
			"blocked_keys":         rs.BlockedKeys,
			"average_hits_per_key": rs.AverageHitsPerKey,
		}
	}

	apierrors.WriteJSON(w, http.StatusOK, body)
}

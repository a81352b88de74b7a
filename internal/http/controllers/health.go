package controllers

import (
	"net/http"

	"github.com/dcastilla/authcore/internal/http/apierrors"
)

// HealthController responde el liveness probe.
type HealthController struct{}

func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

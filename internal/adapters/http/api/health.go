package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/badgeboard/pkg/metrics"
)

// HealthHandler serves liveness and the Prometheus exposition.
type HealthHandler struct {
	metrics http.Handler
}

// NewHealthHandler creates a new health handler over the metrics registry.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz requests. A 200 with the metrics body
// doubles as the liveness signal.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

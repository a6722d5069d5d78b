// Package status wires the controller's optional HTTP status surface:
// liveness/readiness, Prometheus metrics, and a snapshot of run statistics.
// Grounded on the teacher's gorilla/mux router wiring (cmd/services/api),
// fronting internal/platform/health and internal/platform/metrics instead of
// a workflow/execution REST API.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/distwq/distwq/internal/platform/health"
	"github.com/distwq/distwq/internal/platform/metrics"
	"github.com/distwq/distwq/pkg/distwq"
)

// InfoSource supplies the live run statistics the /info endpoint reports.
type InfoSource interface {
	Info() distwq.RunStats
}

// NewRouter builds the controller's status mux: /healthz, /readyz, /metrics,
// and /info.
func NewRouter(h *health.Handler, m *metrics.Metrics, info InfoSource) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ReadinessHandler()).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/info", infoHandler(info)).Methods(http.MethodGet)
	return r
}

func infoHandler(info InfoSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs := info.Info()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rs)
	}
}

// Server bundles the status router behind a *http.Server with the
// teacher's read/write/idle timeout defaults.
func NewServer(addr string, router *mux.Router) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

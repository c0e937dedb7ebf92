package httptransport

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coronasafe/care-abdm/internal/platform/metrics"
	"github.com/coronasafe/care-abdm/internal/platform/middleware"
)

// Registrar is anything that mounts routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the callback surface, the local API, and the operational
// endpoints onto one chi router.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.Logger(logger))
	if m != nil {
		r.Use(countCallbacks(m))
	}

	r.Get("/v0.5/heartbeat", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

// countCallbacks counts inbound gateway callbacks by their final path
// segment (on-init, on-status, notify, on-fetch, on-request, transfer).
func countCallbacks(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v0.5/") {
				m.CallbacksReceived.WithLabelValues(path.Base(r.URL.Path)).Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}

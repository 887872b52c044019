package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthFunc reports whether the process is live. A non-nil error makes
// /healthz answer 503 with the error's message.
type HealthFunc func() error

// NewServer builds the admin HTTP surface: /metrics (Prometheus) and
// /healthz (liveness, consumed by an external supervisor or a container
// orchestrator, not by anything inside this process).
func NewServer(logger *slog.Logger, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	traced := otelhttp.NewHandler(loggingMiddleware(logger, mux), "btn-cache",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics"
		}),
	)

	var handler http.Handler = traced
	handler = metricsMiddleware(handler)
	handler = recoveryMiddleware(logger, handler)
	return handler
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

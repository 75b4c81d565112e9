package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/kristoforerickson/mkr1000/internal/metrics"
)

// requestLogger logs and measures every request. httpsnoop keeps the
// wrapped writer's optional interfaces, so websocket upgrades still hijack.
func requestLogger(next http.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snoop := httpsnoop.CaptureMetrics(next, w, r)
		m.ObserveHTTP(r.Method, snoop.Code, snoop.Duration)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", snoop.Code,
			"bytes", snoop.Written,
			"duration_ms", snoop.Duration.Milliseconds(),
		)
	})
}

package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kristoforerickson/mkr1000/internal/config"
	"github.com/kristoforerickson/mkr1000/internal/logging"
	"github.com/kristoforerickson/mkr1000/internal/metrics"
)

func NewServer(cfg config.Config, handler http.Handler, logger *slog.Logger, m *metrics.Metrics) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(handler, logging.Component(logger, "http"), m),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

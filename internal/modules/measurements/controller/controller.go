package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kristoforerickson/mkr1000/internal/cache"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/repository"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
	"github.com/kristoforerickson/mkr1000/internal/utils"
)

type MeasurementController interface {
	RegisterRoutes(mux *http.ServeMux)
}

// LatestSource serves the most recent sample; either the Redis cache or the
// repository.
type LatestSource interface {
	Latest(ctx context.Context) (types.Sample, error)
}

type measurementControllerImpl struct {
	repository repository.MeasurementRepository
	latest     LatestSource
	logger     *slog.Logger
}

func NewMeasurementController(repo repository.MeasurementRepository, latest LatestSource, logger *slog.Logger) MeasurementController {
	if latest == nil {
		latest = repo
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &measurementControllerImpl{repository: repo, latest: latest, logger: logger}
}

func (c *measurementControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/temps", c.handleHistory(types.MetricTemperature))
	mux.HandleFunc("GET /api/light", c.handleHistory(types.MetricLight))
	mux.HandleFunc("GET /api/moisture", c.handleHistory(types.MetricMoisture))
	mux.HandleFunc("GET /api/latest", c.handleLatest)
}

// handleHistory serves the full [date, value] history of one metric.
func (c *measurementControllerImpl) handleHistory(metric types.Metric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		points, err := c.repository.QueryMetric(r.Context(), metric)
		if err != nil {
			c.logger.Error("history query failed", "metric", metric, "error", err)
			msg := "failed to query " + string(metric) + " history"
			if errors.Is(err, repository.ErrStorageUnavailable) {
				msg = "storage unavailable"
			}
			utils.WriteError(w, http.StatusInternalServerError, msg)
			return
		}
		if points == nil {
			points = []types.Point{}
		}
		utils.WriteJSON(w, http.StatusOK, points)
	}
}

func (c *measurementControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	s, err := c.latest.Latest(r.Context())
	switch {
	case errors.Is(err, cache.ErrNoSample), errors.Is(err, repository.ErrNoMeasurements):
		utils.WriteError(w, http.StatusNotFound, "no sample recorded yet")
		return
	case err != nil:
		c.logger.Error("latest sample lookup failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load latest sample")
		return
	}
	utils.WriteJSON(w, http.StatusOK, s)
}

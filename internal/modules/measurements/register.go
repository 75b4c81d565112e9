package measurements

import (
	"log/slog"
	"net/http"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/controller"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/repository"
)

// RegisterFeature mounts the history and latest-sample API. A nil latest
// serves /api/latest from the repository.
func RegisterFeature(mux *http.ServeMux, repo repository.MeasurementRepository, latest controller.LatestSource, logger *slog.Logger) {
	measurementController := controller.NewMeasurementController(repo, latest, logger)
	measurementController.RegisterRoutes(mux)
}

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kristoforerickson/mkr1000/internal/utils"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Pipeline string `json:"pipeline"`
	Clients  int    `json:"clients"`
}

type healthchecker struct {
	storage  Pinger
	pipeline func() string
	clients  func() int
	logger   *slog.Logger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.storage.Ping(ctx); err != nil {
		h.logger.Error("failed to check storage connectivity", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	resp := healthResponse{Status: "ok", Pipeline: "unknown"}
	if h.pipeline != nil {
		resp.Pipeline = h.pipeline()
	}
	if h.clients != nil {
		resp.Clients = h.clients()
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

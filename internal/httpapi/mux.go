package httpapi

import (
	"log/slog"
	"net/http"
)

// Deps are the handlers and probes mounted next to the feature routes.
type Deps struct {
	Storage  Pinger
	Pipeline func() string
	Clients  func() int
	Socket   http.Handler
	Metrics  http.Handler
	Logger   *slog.Logger
}

func NewMux(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	hc := &healthchecker{storage: d.Storage, pipeline: d.Pipeline, clients: d.Clients, logger: d.Logger}
	mux.HandleFunc("GET /healthz", hc.handleHealthz)
	if d.Socket != nil {
		mux.Handle("GET /socket", d.Socket)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	return mux
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kristoforerickson/mkr1000/internal/board"
	"github.com/kristoforerickson/mkr1000/internal/cache"
	"github.com/kristoforerickson/mkr1000/internal/config"
	"github.com/kristoforerickson/mkr1000/internal/httpapi"
	"github.com/kristoforerickson/mkr1000/internal/logging"
	"github.com/kristoforerickson/mkr1000/internal/metrics"
	measurements "github.com/kristoforerickson/mkr1000/internal/modules/measurements"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/controller"
	"github.com/kristoforerickson/mkr1000/internal/mqtt"
	"github.com/kristoforerickson/mkr1000/internal/persist"
	"github.com/kristoforerickson/mkr1000/internal/realtime"
	"github.com/kristoforerickson/mkr1000/internal/sampling"
	"github.com/kristoforerickson/mkr1000/internal/sensors"
)

const (
	optionalConnectTimeout = 5 * time.Second
	shutdownTimeout        = 10 * time.Second
)

// Run starts the HTTP surface, connects the board and samples until ctx is
// done or the board link drops. A dropped link is returned as an error
// wrapping board.ErrLinkLost.
func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"boardAddr", cfg.BoardAddr(),
		"pins", fmt.Sprintf("temp=A%d moisture=A%d light=A%d", cfg.TempPin, cfg.MoisturePin, cfg.LightPin),
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"persistPolicy", cfg.PersistPolicy,
		"redisAddr", cfg.RedisAddr,
		"mqttBroker", cfg.MQTTBroker,
		"mqttTopic", cfg.MQTTTopic,
	)

	policy, err := persist.ParsePolicy(cfg.PersistPolicy)
	if err != nil {
		return err
	}

	m := metrics.New()
	pipe := &pipeline{logger: logging.Component(logger, "pipeline")}

	st := openStorage(ctx, cfg, logger)
	defer st.close()

	hub := realtime.NewHub(realtime.Options{AllowedOrigins: cfg.WSAllowedOrigins, Logger: logger, Metrics: m})
	defer hub.Close()

	writer := persist.NewWriter(st.repo, policy, persist.Options{
		QueueSize:    cfg.PersistQueueSize,
		MaxRetries:   uint64(cfg.PersistMaxRetries),
		WriteTimeout: cfg.PersistWriteTimeout,
		Logger:       logger,
		Metrics:      m,
	})
	sinks := []sampling.Sink{hub, writer}

	var latest controller.LatestSource
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, optionalConnectTimeout)
		rdb, err := cache.Dial(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable (continuing without latest-sample cache)", "error", err)
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error("redis close", "error", err)
				}
			}()
			store := cache.NewLatestStore(rdb)
			latest = store
			sinks = append(sinks, store)
		}
	}

	if cfg.MQTTBroker != "" {
		publisher := mqtt.NewPublisher(cfg, logger)
		defer publisher.Disconnect()
		connectCtx, cancel := context.WithTimeout(ctx, optionalConnectTimeout)
		err := publisher.Connect(connectCtx)
		cancel()
		if err != nil {
			// paho keeps retrying in the background.
			logger.Warn("mqtt connection failed (continuing, will retry)", "error", err)
		}
		sinks = append(sinks, publisher)
	}

	mux := httpapi.NewMux(httpapi.Deps{
		Storage:  st.repo,
		Pipeline: func() string { return pipe.current().String() },
		Clients:  hub.Count,
		Socket:   http.HandlerFunc(hub.ServeWS),
		Metrics:  m.Handler(),
		Logger:   logger,
	})
	measurements.RegisterFeature(mux, st.repo, latest, logger)

	srv := httpapi.NewServer(cfg, mux, logger, m)
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		httpErr <- srv.Serve(ln)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	// writer drains before storage closes
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := writer.Close(closeCtx); err != nil {
			logger.Error("persist writer close", "error", err)
		}
	}()

	link, err := board.Connect(ctx, cfg.BoardAddr(), board.Options{
		DialTimeout:      cfg.BoardConnectTimeout,
		HandshakeTimeout: cfg.BoardReadyTimeout,
		SamplingInterval: cfg.BoardSamplingInterval,
		AnalogPins:       []int{cfg.TempPin, cfg.LightPin, cfg.MoisturePin},
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := link.Close(); err != nil {
			logger.Error("board link close", "error", err)
		}
	}()
	pipe.advance(StageLinkEstablished)

	readyCtx, cancelReady := context.WithTimeout(ctx, cfg.BoardReadyTimeout)
	err = link.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	pipe.advance(StageBoardReady)

	registry, err := sensors.FromLink(link, cfg.TempPin, cfg.LightPin, cfg.MoisturePin)
	if err != nil {
		return err
	}

	sampleCtx, stopSampling := context.WithCancel(ctx)
	scheduler := sampling.NewScheduler(registry, sinks, sampling.Options{Logger: logger, Metrics: m})
	samplingDone := make(chan struct{})
	go func() {
		defer close(samplingDone)
		_ = scheduler.Run(sampleCtx, link.Ready())
	}()
	pipe.advance(StageSampling)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case <-link.Done():
		runErr = fmt.Errorf("pipeline stopped: %w", link.Err())
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http serve: %w", err)
		}
	}

	stopSampling()
	<-samplingDone
	return runErr
}

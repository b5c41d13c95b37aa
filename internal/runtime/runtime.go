// Package runtime assembles the daemon: telemetry, the optional embedded
// bus, the event store, the decode/transcribe pipeline and the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur/internal/bus"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/decode"
	"github.com/murmurlabs/murmur/internal/engine"
	"github.com/murmurlabs/murmur/internal/eventstore"
	"github.com/murmurlabs/murmur/internal/hardware"
	"github.com/murmurlabs/murmur/internal/natsserver"
	"github.com/murmurlabs/murmur/internal/server"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	bridge      *server.Server
	bus         *bus.Client
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is canceled, then shuts
// down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	// The engine profile is tuned to the machine unless the operator pinned
	// model/device/compute explicitly.
	hwInfo := hardware.Detect(r.logger)
	hardware.Apply(&r.cfg.Engine, hwInfo)

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		if r.cfg.Bus.Embedded {
			embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
			if err != nil {
				return fmt.Errorf("failed to start embedded bus: %w", err)
			}
			defer embedded.Shutdown()
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			// The bridge is useful without fan-out; degrade instead of dying.
			r.logger.Warn("bus unavailable, continuing without fan-out", slog.String("error", err.Error()))
			busClient = nil
		} else {
			defer busClient.Close()
		}
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	decoder := decode.NewFFmpegDecoder(r.cfg.Decode, r.logger.With(slog.String("component", "decode")))
	loader := engine.NewLoader(r.cfg.Engine, r.logger.With(slog.String("component", "engine")))

	bridge := server.New(ctx, r.cfg.Session, engine.OptionsFromConfig(r.cfg.Engine),
		decoder, loader, busClient, store, r.logger)
	r.bridge = bridge
	r.bus = busClient

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/ws", bridge)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode),
		slog.String("model", r.cfg.Engine.Model),
		slog.String("device", r.cfg.Engine.Device))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() || r.bridge == nil || !r.bridge.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	// A lost bus only degrades fan-out; the bridge itself still serves.
	if r.bus != nil && !r.bus.Healthy() {
		_, _ = w.Write([]byte("ready, bus degraded"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

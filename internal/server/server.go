// Package server maps one WebSocket connection onto at most one recording
// session and relays session output back over the wire.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/murmurlabs/murmur/internal/bus"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/decode"
	"github.com/murmurlabs/murmur/internal/engine"
	"github.com/murmurlabs/murmur/internal/eventstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Server handles the /ws endpoint. Only one client is served at a time; the
// bridge is a single-session local companion, not a multi-tenant service.
type Server struct {
	ctx     context.Context
	cfg     config.SessionConfig
	opts    engine.Options
	decoder decode.Decoder
	loader  *engine.Loader
	bus     *bus.Client       // nil when the bus is disabled
	store   *eventstore.Store // nil when persistence is disabled
	log     *slog.Logger
	baseLog *slog.Logger // uncomponentized, handed to sessions

	upgrader websocket.Upgrader
	active   atomic.Bool

	meter            metric.Meter
	sessionsStarted  metric.Int64Counter
	audioBytes       metric.Int64Counter
	finalizeDuration metric.Float64Histogram
}

func New(ctx context.Context, cfg config.SessionConfig, opts engine.Options, decoder decode.Decoder, loader *engine.Loader, busClient *bus.Client, store *eventstore.Store, log *slog.Logger) *Server {
	s := &Server{
		ctx:     ctx,
		cfg:     cfg,
		opts:    opts,
		decoder: decoder,
		loader:  loader,
		bus:     busClient,
		store:   store,
		log:     log.With(slog.String("component", "server")),
		baseLog: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		meter: otel.Meter("github.com/murmurlabs/murmur/server"),
	}
	s.initMetrics()
	return s
}

func (s *Server) initMetrics() {
	var err error
	s.sessionsStarted, err = s.meter.Int64Counter("murmur.sessions.started",
		metric.WithDescription("Recording sessions started"))
	if err != nil {
		s.log.Warn("failed to create sessions counter", slog.String("error", err.Error()))
	}
	s.audioBytes, err = s.meter.Int64Counter("murmur.audio.bytes",
		metric.WithDescription("Compressed audio bytes buffered"))
	if err != nil {
		s.log.Warn("failed to create audio counter", slog.String("error", err.Error()))
	}
	s.finalizeDuration, err = s.meter.Float64Histogram("murmur.finalize.duration",
		metric.WithDescription("Finalize pipeline duration in seconds"))
	if err != nil {
		s.log.Warn("failed to create finalize histogram", slog.String("error", err.Error()))
	}
}

// Healthy reports whether the server can accept a connection.
func (s *Server) Healthy() bool {
	return s.decoder != nil && s.loader != nil
}

// ServeHTTP upgrades the connection and runs the client loop until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.active.CompareAndSwap(false, true) {
		http.Error(w, "another client is connected", http.StatusConflict)
		return
	}
	defer s.active.Store(false)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(s, ws)
	s.log.Info("client connected", slog.String("remote", r.RemoteAddr))
	c.run()
	s.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
}

// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server assembles and runs the daemon: startup recovery, the
// HTTP listener, and the ordered graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/existential-birds/amelia-sub002/internal/config"
	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/pipeline"
	"github.com/existential-birds/amelia-sub002/internal/server/api"
	"github.com/existential-birds/amelia-sub002/internal/server/ws"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/tracing"
)

// cancelGrace is the per-executor grace after cancellation at shutdown.
const cancelGrace = 5 * time.Second

// Server is the assembled daemon.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	store      *store.Store
	bus        *engine.Bus
	emitter    *engine.Emitter
	gates      *engine.GateRegistry
	supervisor *engine.Supervisor
	monitor    *engine.Monitor
	wsManager  *ws.Manager

	httpServer   *http.Server
	traceCleanup func(context.Context) error

	ready atomic.Bool
}

// New wires all components. The database is opened and recovery runs here,
// before any listener exists, so clients can never observe a pre-recovery
// state.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "server")

	st, err := store.Open(store.Config{Path: cfg.Workflows.DatabasePath, Logger: logger})
	if err != nil {
		return nil, err
	}

	recovered, err := st.RecoverInterrupted(context.Background())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("server: recover interrupted workflows: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted workflows", "count", recovered)
	}

	bus := engine.NewBus(engine.DefaultBusQueueSize, logger)
	emitter := engine.NewEmitter(st, bus, logger)
	gates := engine.NewGateRegistry(emitter, logger)
	runner := engine.NewRunner(st, emitter, gates, logger)

	driver, err := resolveDriver(cfg.Workflows.Driver)
	if err != nil {
		st.Close()
		return nil, err
	}

	supervisor := engine.NewSupervisor(engine.SupervisorConfig{
		MaxConcurrent:       cfg.Workflows.MaxConcurrent,
		MaxReviewIterations: cfg.Workflows.MaxReviewIterations,
	}, st, emitter, gates, runner, pipeline.NewRegistry(), driver, logger)

	monitor := engine.NewMonitor(supervisor, cfg.Workflows.CheckInterval, logger)
	wsManager := ws.NewManager(st, cfg.Server.WSIdleTimeout, logger)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		version:    version,
		store:      st,
		bus:        bus,
		emitter:    emitter,
		gates:      gates,
		supervisor: supervisor,
		monitor:    monitor,
		wsManager:  wsManager,
	}

	router := api.NewRouter(api.Config{
		Store:          st,
		Supervisor:     supervisor,
		Logger:         logger,
		Ready:          s.ready.Load,
		Version:        version,
		RateLimit:      cfg.Server.RateLimit,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsHandler: promhttp.Handler(),
		WSHandler:      wsManager,
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// resolveDriver maps the configured driver name to an implementation.
func resolveDriver(name string) (pipeline.StageDriver, error) {
	switch name {
	case "", "scripted":
		return pipeline.NewScriptedDriver(), nil
	default:
		return nil, fmt.Errorf("server: unknown stage driver %q", name)
	}
}

// Start begins serving and blocks until ctx is cancelled or the listener
// fails, then runs the graceful shutdown sequence.
func (s *Server) Start(ctx context.Context) error {
	cleanup, err := tracing.Setup(ctx, tracing.TracerConfig{
		Enabled:        os.Getenv("AMELIA_TRACE") == "1",
		ServiceName:    "ameliad",
		ServiceVersion: s.version,
	})
	if err != nil {
		return err
	}
	s.traceCleanup = cleanup

	if err := s.writePIDFile(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}

	s.monitor.Start()
	s.wsManager.Attach(s.bus)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("daemon started",
		"addr", s.httpServer.Addr,
		"version", s.version,
		"database", s.cfg.Workflows.DatabasePath)

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		s.logger.Error("listener failed", log.Error(err))
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

// shutdown runs the ordered teardown: refuse new workflows, drain
// executors, stop the monitor, close sockets, stop the listener, prune,
// stop the bus, close the database.
func (s *Server) shutdown() {
	s.ready.Store(false)

	s.supervisor.Shutdown(s.cfg.Server.ShutdownTimeout, cancelGrace)
	s.monitor.Stop()
	s.wsManager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", log.Error(err))
	}

	report, err := s.store.Prune(context.Background(), store.RetentionPolicy{
		RetentionDays:        s.cfg.Retention.Days,
		MaxEventsPerWorkflow: s.cfg.Retention.MaxEventsPerWorkflow,
	})
	if err != nil {
		s.logger.Error("retention failed", log.Error(err))
	} else {
		s.logger.Info("retention complete",
			"workflows_deleted", report.WorkflowsDeleted,
			"events_deleted", report.EventsDeleted,
			"events_trimmed", report.EventsTrimmed)
	}

	s.bus.Stop()
	s.removePIDFile()

	if s.traceCleanup != nil {
		if err := s.traceCleanup(context.Background()); err != nil {
			s.logger.Warn("tracer shutdown", log.Error(err))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("database close", log.Error(err))
	}
	s.logger.Info("daemon stopped")
}

// writePIDFile records the daemon's pid when configured.
func (s *Server) writePIDFile() error {
	path := s.cfg.Server.PIDFile
	if path == "" {
		return nil
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o600); err != nil {
		return fmt.Errorf("server: write pid file: %w", err)
	}
	return nil
}

func (s *Server) removePIDFile() {
	if s.cfg.Server.PIDFile == "" {
		return
	}
	if err := os.Remove(s.cfg.Server.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove pid file", log.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/flowmark/flowmark"
	"github.com/flowmark/flowmark/internal/config"
	"github.com/flowmark/flowmark/internal/host"
	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/internal/server"
	"github.com/flowmark/flowmark/internal/store"
	blobstore "github.com/flowmark/flowmark/internal/store/blob"
	"github.com/flowmark/flowmark/internal/store/inmem"
	redisstore "github.com/flowmark/flowmark/internal/store/redis"
	"github.com/flowmark/flowmark/pkg/log"
)

type flowmarkd struct {
	cfg        *config.Config
	store      store.Store
	hub        *hub.Hub
	host       *host.Host
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var ErrCreateStore = errors.New("failed to create instance store")

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &flowmarkd{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *flowmarkd) run() error {
	if err := s.initializeStore(); err != nil {
		return err
	}

	if err := s.initializeHost(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *flowmarkd) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Flowmark host starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("store_backend", s.cfg.Store.Backend),
		slog.Any("base_addresses", s.cfg.BaseAddresses),
		slog.Duration("workflow_timeout", s.cfg.WorkflowTimeout),
		slog.Duration("time_to_persist", s.cfg.TimeToPersist),
		slog.Duration("time_to_unload", s.cfg.TimeToUnload),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *flowmarkd) initializeStore() error {
	switch s.cfg.Store.Backend {
	case config.StoreBackendInMem:
		s.store = inmem.New()

	case config.StoreBackendRedis:
		s.store = redisstore.New(s.cfg.Store)

	case config.StoreBackendBlob:
		st, err := blobstore.New(
			context.Background(),
			s.cfg.Store.BucketURL,
			s.cfg.Store.BlobPrefix,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCreateStore, err)
		}
		s.store = st

	default:
		return fmt.Errorf("%w: %s", ErrCreateStore, s.cfg.Store.Backend)
	}
	return nil
}

func (s *flowmarkd) initializeHost() error {
	s.hub = hub.New()

	h, err := host.New(
		s.cfg, counterWorkflow(), s.store, s.hub, slog.Default(),
	)
	if err != nil {
		return err
	}
	s.host = h
	return nil
}

func (s *flowmarkd) startServer() {
	s.apiServer = server.NewServer(s.host, s.hub, s.store)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *flowmarkd) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.host.Close(ctx); err != nil {
		slog.Error("Host shutdown failed", log.Error(err))
	}

	s.hub.Close()
	if err := s.store.Close(); err != nil {
		slog.Error("Store shutdown failed", log.Error(err))
	}

	slog.Info("Server exited")
}

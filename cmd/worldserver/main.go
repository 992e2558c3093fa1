// Command worldserver serves procedurally generated world chunks and their
// resource veins over a websocket streaming protocol and a small HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/veinworld/worldserver/internal/api"
	"github.com/veinworld/worldserver/internal/cache"
	"github.com/veinworld/worldserver/internal/chunkstore"
	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/dispatcher"
	"github.com/veinworld/worldserver/internal/influx"
	"github.com/veinworld/worldserver/internal/logging"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/monitor"
	"github.com/veinworld/worldserver/internal/noise"
	intOtel "github.com/veinworld/worldserver/internal/otel"
	"github.com/veinworld/worldserver/internal/protocol"
	"github.com/veinworld/worldserver/internal/resource"
	"github.com/veinworld/worldserver/internal/stream"
	"github.com/veinworld/worldserver/internal/terrain"
	"github.com/veinworld/worldserver/internal/transport/ws"
	"github.com/veinworld/worldserver/internal/worker"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const (
	backgroundTaskTimeout = 30 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worldserver:", err)
		os.Exit(1)
	}
}

func loadConfig(args []string) (config.Config, error) {
	flags := pflag.NewFlagSet("worldserver", pflag.ContinueOnError)
	configDir := flags.String("config", ".", "directory containing "+config.ConfigFileName)
	flags.String("log-level", "", "override logLevel")
	flags.String("addr", "", "override server.addr")
	if err := flags.Parse(args); err != nil {
		return config.Config{}, err
	}

	if err := config.Load(*configDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Config{}, err
		}
		config.LoadDefaults()
	}
	if f := flags.Lookup("log-level"); f.Changed {
		viper.Set("logLevel", f.Value.String())
	}
	if f := flags.Lookup("addr"); f.Changed {
		viper.Set("server.addr", f.Value.String())
	}
	return config.Get(), nil
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// OTel logs go to a file beside the other logs
	otelCfg := intOtel.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: Version,
		WorldID:        cfg.World.ID,
		BatchTimeout:   cfg.OTel.BatchTimeout,
		Endpoint:       cfg.OTel.Endpoint,
		Insecure:       cfg.OTel.Insecure,
	}
	if cfg.OTel.Enabled {
		otelFile, err := logging.OpenLogFile(cfg.LogsDir, "worldserver.otel", time.Now())
		if err != nil {
			return fmt.Errorf("failed to open otel log file: %w", err)
		}
		defer otelFile.Close()
		otelCfg.LogWriter = otelFile
	}
	otelProvider, err := intOtel.New(otelCfg)
	if err != nil {
		return fmt.Errorf("failed to set up otel: %w", err)
	}

	logOpts := []logging.Option{logging.WithContext(logging.WorldContext(cfg.World.ID))}
	var graylog io.Writer
	if cfg.Graylog.Enabled {
		gw, err := logging.NewGraylogWriter(cfg.Graylog.Address, "worldserver")
		if err != nil {
			return err
		}
		defer gw.Close()
		graylog = gw
		logOpts = append(logOpts, logging.WithGraylog(gw))
	}

	// stdout unless the run gets its own file
	var logOut io.Writer
	if cfg.LogToFile {
		logFile, err := logging.OpenLogFile(cfg.LogsDir, "worldserver", time.Now())
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		logOut = logFile
	}

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logOut, cfg.LogLevel, otelProvider.LoggerProvider(), logOpts...)
	logger := slogManager.Logger()
	logger.Info("Starting world server",
		"version", Version,
		"buildDate", BuildDate,
		"seed", cfg.World.Seed,
		"chunkSize", cfg.World.ChunkSize,
		"storage", cfg.Storage.Type,
	)

	world := model.WorldInfo{
		WorldID:   cfg.World.ID,
		Seed:      cfg.World.Seed,
		ChunkSize: cfg.World.ChunkSize,
		CellSize:  cfg.World.CellSize,
	}
	backend, err := createStorageBackend(cfg.Storage, world, logger)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Error closing storage backend", "error", err)
		}
	}()

	// generation
	catalog, err := resource.DefaultCatalog()
	if err != nil {
		return err
	}
	field := terrain.NewField(noise.New(cfg.World.Seed))
	veins := resource.NewGenerator(resource.Config{
		WorldID:          cfg.World.ID,
		ChunkSize:        cfg.World.ChunkSize,
		BaseProbability:  cfg.Generation.BaseProbability,
		DensityThreshold: cfg.Generation.DensityThreshold,
		MinSeparation:    cfg.Generation.MinSeparation,
	}, field, catalog)

	// storage tiers
	chunkCache := cache.New(cfg.Cache.MaxEntries)
	go chunkCache.Run(ctx, cfg.Cache.SweepInterval)

	background := worker.NewBackground(logger, nil, backgroundTaskTimeout)
	store, err := chunkstore.New(chunkstore.Config{
		WorldID:       cfg.World.ID,
		ChunkSize:     cfg.World.ChunkSize,
		CacheTTL:      cfg.Cache.TTL,
		MaxConcurrent: cfg.Backfill.MaxConcurrent,
		BatchSize:     cfg.Backfill.BatchSize,
	}, chunkstore.Dependencies{
		Cache:      chunkCache,
		Cold:       backend,
		Spatial:    backend,
		Generator:  chunkstore.NewProcedural(field, veins),
		Background: background,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// streaming
	scheduler := stream.NewScheduler(stream.Config{
		ChunkSize: cfg.World.ChunkSize,
		CellSize:  cfg.World.CellSize,
	}, store, logger)

	eventDispatcher, err := dispatcher.New(logger.With("component", "dispatcher"))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	handlers := worker.NewHandlers(scheduler, logger)
	handlers.RegisterHandlers(eventDispatcher)

	validator, err := protocol.NewValidator()
	if err != nil {
		return err
	}
	wsServer, err := ws.NewServer(ws.Config{
		ReadLimit:         cfg.Server.ReadLimit,
		SendQueue:         cfg.Server.SendBuffer,
		MessagesPerSecond: cfg.Server.MessagesPerSecond,
		Burst:             cfg.Server.Burst,
	}, ws.Dependencies{
		Dispatcher: eventDispatcher,
		Validator:  validator,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", wsServer)
	api.New(api.Dependencies{
		World:  store,
		Logger: logger,
		Checks: map[string]api.HealthCheck{"storage": storageHealth(backend)},
	}).Routes(mux)

	// metrics sinks
	var influxWriter monitor.PointWriter
	if cfg.Influx.Enabled {
		influxLog := logging.NewZerolog(nil, cfg.LogLevel, "influx", cfg.World.ID, graylog)
		influxManager := influx.NewManager(cfg.Influx, influxLog, filepath.Join(cfg.LogsDir, "influx_backup.lp.gz"))
		if err := influxManager.Connect(ctx); err != nil {
			logger.Warn("InfluxDB unavailable, metrics are only logged", "error", err)
		} else {
			influxWriter = influxManager
		}
		defer influxManager.Close()
	}

	monitorService := monitor.NewService(monitor.Dependencies{
		WorldID:       cfg.World.ID,
		Store:         store,
		Sessions:      func() int64 { return int64(handlers.Sessions()) },
		Connections:   func() int64 { return int64(wsServer.Clients()) },
		CacheEntries:  func() int64 { return int64(chunkCache.Len()) },
		PendingWrites: background.Pending,
		DB:            storageDB(backend),
		Influx:        influxWriter,
		StatusFile:    filepath.Join(cfg.LogsDir, "status.json"),
		Logger:        logger,
		Interval:      cfg.MonitorInterval,
	})
	if err := monitorService.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Server.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// close sockets first so every session sees its disconnect
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error closing websocket connections", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}
	if err := eventDispatcher.Close(shutdownCtx); err != nil {
		logger.Error("Dispatcher queues did not drain", "error", err)
	}
	handlers.Close()
	monitorService.Stop(shutdownCtx)
	if err := background.Shutdown(shutdownCtx); err != nil {
		logger.Error("Background writes did not finish", "error", err, "pending", background.Pending())
	}
	if err := slogManager.Flush(shutdownCtx); err != nil {
		logger.Error("Error flushing logs", "error", err)
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "worldserver: otel shutdown:", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vjranagit/solarmon/internal/config"
	"github.com/vjranagit/solarmon/internal/logging"
	"github.com/vjranagit/solarmon/pkg/api"
	"github.com/vjranagit/solarmon/pkg/storage"
	"github.com/vjranagit/solarmon/pkg/types"
)

const (
	version = "0.3.0"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML or YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "solarmon-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	log := logging.New(os.Stderr, level)

	log.Info("configuration loaded",
		slog.String("version", version),
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.String("storage_path", cfg.Storage.Path),
		slog.Int("compression_level", cfg.Storage.CompressionLevel),
		slog.Bool("wal", cfg.Storage.EnableWAL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.NewStorage(cfg.ToStorageConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Storage.EnableWAL {
		replayed := 0
		err := storage.ReplayWAL(cfg.Storage.Path, func(req *types.WriteRequest) error {
			err := store.Write(ctx, req)
			if storage.IsPermanent(err) {
				log.Warn("skipping unwritable WAL entry",
					slog.Int("topic_id", req.Topic.TopicID), slog.Any("error", err))
				return nil
			}
			if err == nil {
				replayed += len(req.Readings)
			}
			return err
		})
		if err != nil {
			store.Close()
			return fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			log.Info("replayed WAL", slog.Int("readings", replayed))
		}
	}

	cached := storage.NewCachedStorage(store, cfg.Storage.CacheCapacity, cfg.Storage.CacheTTL.Std())
	defer cached.Close()

	var wal *storage.WAL
	if cfg.Storage.EnableWAL {
		wal, err = storage.NewWAL(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open WAL: %w", err)
		}
		defer wal.Close()
	}

	writer := storage.NewBatchWriter(cached, wal, cfg.Storage.BatchSize, func(err error) {
		log.Error("background flush failed", slog.Any("error", err))
	})

	server := api.NewServer(cached, api.Options{
		Addr:           cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Timeout:        cfg.Server.Timeout.Std(),
		Ingester:       writer,
		Logger:         log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", slog.String("addr", cfg.Server.ListenAddr))
		errCh <- server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping server")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("server error", slog.Any("error", serveErr))
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("server shutdown error", slog.Any("error", err))
	}

	if err := writer.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("failed to flush pending writes: %w", err))
	}

	log.Info("server stopped")
	return serveErr
}

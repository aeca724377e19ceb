package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/candela-labs/convoscope/internal/api"
	"github.com/candela-labs/convoscope/internal/attribution"
	"github.com/candela-labs/convoscope/internal/config"
	"github.com/candela-labs/convoscope/internal/events"
	"github.com/candela-labs/convoscope/internal/export"
	"github.com/candela-labs/convoscope/internal/pipeline"
	"github.com/candela-labs/convoscope/internal/promptstrip"
	"github.com/candela-labs/convoscope/internal/storage"
	"github.com/candela-labs/convoscope/internal/store"
	"github.com/candela-labs/convoscope/internal/toolnorm"
	"github.com/candela-labs/convoscope/internal/transform"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("convoscope starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		slog.Error("failed to load tuning file", "path", cfg.TuningFile, "error", err)
		os.Exit(1)
	}

	// Object store: exports and prompt bodies. Falls back to in-process
	// storage when no endpoint is configured, which keeps local runs and
	// CI self-contained.
	var objects storage.ObjectStore
	if cfg.S3Endpoint != "" {
		s3, err := storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			BucketName:      cfg.S3Bucket,
			UseSSL:          cfg.S3UseSSL,
		})
		if err != nil {
			slog.Error("failed to connect to object store", "error", err)
			os.Exit(1)
		}
		objects = s3
		slog.Info("object store connected", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	} else {
		objects = storage.NewMemoryStore()
		slog.Warn("S3_ENDPOINT not set, exports held in memory only")
	}

	// Fingerprint index: Postgres-backed when configured, otherwise the
	// in-process store (fingerprints then reset on restart).
	var fingerprints promptstrip.Store = promptstrip.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		fingerprints = store.FingerprintStore{Store: db}
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, fingerprint index is in-memory")
	}

	stripper := promptstrip.New(fingerprints, &storage.PromptBlobs{Store: objects},
		tuning.PromptDetection, slog.Default())

	pipe := pipeline.New(
		stripper,
		attribution.NewEngine(slog.Default()),
		toolnorm.New(tuning.ToolDedup, slog.Default()),
		transform.New(slog.Default()),
		export.NewWriter(objects, slog.Default()),
		slog.Default(),
	)

	// NATS
	natsClient, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	handler := events.NewHandler(natsClient, pipe, slog.Default())
	if err := handler.Start(); err != nil {
		slog.Error("failed to subscribe to conversation events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, pipe, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if err := natsClient.Publish("convoscope.service.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("convoscope ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("convoscope stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

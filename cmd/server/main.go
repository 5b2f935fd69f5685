package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/logging"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/reassembly"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/server"
	"github.com/skypro1111/chunkrec/internal/store"
	"github.com/skypro1111/chunkrec/internal/transcription"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

const (
	serviceName    = "chunkrec-server"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Bool("durable_store", cfg.Database.URL != ""),
		slog.String("tracker", cfg.Sequencer.Tracker),
		slog.Int("initial_tolerance", cfg.Sequencer.InitialTolerance),
		slog.Int("ahead_tolerance", cfg.Sequencer.AheadTolerance),
		slog.Int("behind_tolerance", cfg.Sequencer.BehindTolerance),
		slog.Bool("events", cfg.Events.NATSURL != ""),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		logCloser.Close()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tracker, closeTracker, err := openTracker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTracker()

	window := sequencer.Window{
		InitialTolerance: cfg.Sequencer.InitialTolerance,
		AheadTolerance:   cfg.Sequencer.AheadTolerance,
		BehindTolerance:  cfg.Sequencer.BehindTolerance,
	}
	seq := sequencer.New(window, tracker,
		sequencer.WithSeed(st.MaxIndex),
		sequencer.WithObserver(appMetrics),
		sequencer.WithLogger(logger),
	)

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	deps := server.Deps{
		Store:     st,
		Uploader:  uploader.New(st, seq, publisher, appMetrics, logger),
		Sequencer: seq,
		Reassembler: reassembly.New(nil, st,
			reassembly.WithStreamingThreshold(cfg.Reassembly.StreamingThreshold),
			reassembly.WithMetrics(appMetrics),
			reassembly.WithLogger(logger),
		),
		Publisher:  publisher,
		SampleRate: cfg.Capture.SampleRate,
		Channels:   cfg.Capture.Channels,
	}

	if cfg.Transcription.Enabled() {
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
		}, appMetrics, logger)
		if err != nil {
			return fmt.Errorf("failed to create transcription client: %w", err)
		}
		defer client.Close()
		deps.Transcriber = client
		logger.Info("Transcription client initialized",
			slog.String("endpoint", cfg.Transcription.Endpoint),
			slog.Int("max_concurrent", cfg.Transcription.MaxConcurrent),
		)
	}

	if !cfg.HTTP.Enabled {
		return fmt.Errorf("http API is disabled; nothing to serve")
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, deps, logger, appMetrics)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("No database configured, chunks are kept in memory only")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("Durable store connected")
	return pg, nil
}

func openTracker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sequencer.Tracker, func(), error) {
	if cfg.Sequencer.Tracker != "redis" {
		return sequencer.NewMemoryTracker(), func() {}, nil
	}

	client, err := sequencer.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Redis sequencer tracker connected", slog.String("addr", cfg.Redis.Addr))

	tracker := sequencer.NewRedisTracker(client, cfg.Redis.KeyPrefix, cfg.Redis.GetTTLDuration())
	return tracker, func() { client.Close() }, nil
}

func openPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}, nil
	}

	p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Token, cfg.Events.SubjectPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	logger.Info("Event publisher connected", slog.String("subject_prefix", cfg.Events.SubjectPrefix))
	return p, nil
}

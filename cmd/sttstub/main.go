// Command sttstub is a local speech-to-text endpoint for development.
// It accepts the transcription client's multipart form and answers with a
// canned transcript, or an empty one when the audio is silent.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	text := flag.String("text", "stub transcript", "Transcript returned for non-silent audio")
	delay := flag.Duration("delay", 0, "Artificial processing delay")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.NewWithWriter(config.LoggingConfig{Level: *level, Format: "text"}, os.Stderr)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(*text, *delay, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("STT stub listening", slog.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("STT stub failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}
}

// Package main runs the mock chat backend, serving the same HTTP surface the
// sync layer speaks. Useful for local development without the real backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/internal/mockserver"
	"github.com/verdantchat/chatsync/pkg/logger"
	"github.com/verdantchat/chatsync/pkg/tracing"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync-mockserver", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing")
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	srv := mockserver.New(mockserver.NewStore(), cfg, log)

	server := &http.Server{
		Addr:        ":" + cfg.MockPort,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: streaming responses stay open as long as the
		// client keeps reading.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("mock backend listening on :" + cfg.MockPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown: " + err.Error())
	}

	log.Info("stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/api"
	"github.com/danghamo/passport/pkg/config"
	"github.com/danghamo/passport/pkg/redisx"
)

func main() {
	// Initialize configuration and logger
	cfg, log, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Ensure logger is flushed on exit
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Passport Account Server",
		zap.String("version", "0.1.0"),
		zap.String("environment", cfg.Server.Environment),
	)

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.Redis.URL
	}

	redisClient, err := redisx.NewClient(redisURL, log)
	if err != nil {
		log.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	apiServer, err := api.NewServer(cfg, log, redisClient)
	if err != nil {
		log.Fatal("Failed to initialize API server", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		cancel()
	}()

	if err := apiServer.Start(ctx); err != nil {
		log.Error("Server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Server gracefully stopped")
}

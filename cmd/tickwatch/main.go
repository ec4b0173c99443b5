package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/tickwatch/internal/config"
	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/session"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults and TICKWATCH_* env when empty)")
	envPath    = flag.String("env", ".env", "Path to an optional .env file")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	sess, err := session.New(cfg)
	if err != nil {
		logger.Fatal("Failed to start session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := sess.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("Shutdown signal received, cleaning up...")
	}
	if err := sess.Close(); err != nil {
		logger.Error("Cleanup failed: %v", err)
	}
	if runErr != nil {
		logger.Fatal("Session failed: %v", runErr)
	}
	logger.Info("Service stopped")
}

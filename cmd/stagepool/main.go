package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/SkynetNext/stagepool/internal/config"
	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/service"
	"github.com/SkynetNext/stagepool/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configuration file path (built-in defaults when empty)")
	flag.Parse()

	// Load configuration
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	// Environment overrides the configured log level
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	if err := logger.Init(logLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize tracing (optional, if Jaeger endpoint is provided)
	jaegerEndpoint := os.Getenv("JAEGER_ENDPOINT")
	if jaegerEndpoint == "" {
		jaegerEndpoint = cfg.Tracing.JaegerEndpoint
	}
	if jaegerEndpoint != "" {
		if err := tracing.Init("stagepool", version, jaegerEndpoint); err != nil {
			logger.L.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			logger.L.Info("Tracing initialized", zap.String("endpoint", jaegerEndpoint))
		}
	}

	svc, err := service.New(cfg)
	if err != nil {
		logger.L.Fatal("Failed to create service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.L.Fatal("Failed to start service", zap.Error(err))
	}

	logger.L.Info("stagepool started successfully",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.Strings("pools", svc.Pools().Names()),
		zap.String("codec", svc.Copier().Codec().Name()),
		zap.Bool("snapshots", svc.Snapshots() != nil),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.L.Info("Received stop signal, starting graceful shutdown...")

	// Stop background workers before waiting on them
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Error during service shutdown", zap.Error(err))
	}

	// Shutdown tracing
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("Error during tracing shutdown", zap.Error(err))
	}

	logger.L.Info("stagepool closed")
}

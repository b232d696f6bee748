package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/config"
	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/server"
	"github.com/dasmlab/fukidashi/pkg/service"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file")

	// Flags override the matching config values when set.
	grpcPort = flag.Int("grpc-port", 0, "gRPC health server port")
	httpPort = flag.Int("http-port", 0, "HTTP API port")
	logLevel = flag.String("log-level", "", "Log level: debug, info, warn, error")

	recognition = flag.Bool("recognition", false, "Enable image recognition regardless of the config file")
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if *grpcPort != 0 {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *httpPort != 0 {
		cfg.Server.HTTPPort = *httpPort
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}
	if *recognition {
		cfg.Recognition.Enabled = true
	}

	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"config":      *configPath,
		"grpc_port":   cfg.Server.GRPCPort,
		"http_port":   cfg.Server.HTTPPort,
		"provider":    cfg.Translation.DefaultProvider,
		"fallback":    cfg.Translation.FallbackProvider,
		"recognition": cfg.Recognition.Enabled,
		"log_level":   level.String(),
	}).Info("Starting fukidashi server")

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Recognition engines are built lazily, one per pass, and shared by
	// every request.
	var (
		engines    *recognize.EngineCache
		recognizer *recognize.Recognizer
	)
	if cfg.Recognition.Enabled {
		engines = recognize.NewEngineCache(recognize.NewWorkerFactory(cfg.WorkerConfig(), logger), logger)

		opts := cfg.RecognizerOptions()
		opts.Logger = logger
		recognizer = recognize.NewRecognizer(engines, opts)
	}

	pipeline, err := service.NewPipeline(service.PipelineConfig{
		Providers:        cfg.ProviderConfigs(),
		DefaultProvider:  cfg.Translation.DefaultProvider,
		FallbackProvider: cfg.Translation.FallbackProvider,
		Orchestrator: translate.Options{
			MaxConcurrency: cfg.Translation.MaxConcurrency,
			Pacer:          cfg.Pacer(),
		},
		Recognizer: recognizer,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create translation pipeline")
	}

	// Verify providers are healthy
	healthCtx, healthCancel := context.WithTimeout(runCtx, 10*time.Second)
	logger.Info("Checking provider health...")
	if failed := pipeline.CheckHealth(healthCtx); len(failed) > 0 {
		logger.WithField("unhealthy", len(failed)).Warn("Server will start, but translation requests may fall back to the original text until providers are ready")
	} else {
		logger.Info("Provider health check passed")
	}
	healthCancel()

	jobQueue := service.NewJobQueue(logger)
	jobQueue.SetProcessor(service.NewJobProcessor(runCtx, pipeline, cfg.Jobs.Timeout, logger))

	go func() {
		ticker := time.NewTicker(cfg.Jobs.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				jobQueue.CleanupOldJobs(cfg.Jobs.MaxAge)
			case <-runCtx.Done():
				return
			}
		}
	}()
	logger.WithFields(logrus.Fields{
		"cleanup_interval": cfg.Jobs.CleanupInterval.String(),
		"max_age":          cfg.Jobs.MaxAge.String(),
	}).Info("Started job cleanup goroutine")

	// Create listener
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"port": cfg.Server.GRPCPort,
		}).Fatal("Failed to listen on port")
	}

	s := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl/debugging
	reflection.Register(s)

	httpServer := server.NewHTTPServer(pipeline, jobQueue, server.Options{
		Port:   cfg.Server.HTTPPort,
		Logger: logger,
	})

	errChan := make(chan error, 2)
	go func() {
		logger.WithFields(logrus.Fields{
			"port": cfg.Server.GRPCPort,
		}).Info("gRPC health server listening")
		if err := s.Serve(lis); err != nil {
			errChan <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.WithError(err).Error("Server error")
	case sig := <-sigChan:
		logger.WithFields(logrus.Fields{
			"signal": sig.String(),
		}).Info("Received signal, shutting down gracefully...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	// Running jobs observe the cancellation and finish as failed.
	runCancel()
	jobQueue.Wait()

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Graceful shutdown timeout, forcing stop...")
		s.Stop()
	}

	if engines != nil {
		if err := engines.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close recognition engines")
		}
	}

	logger.Info("Server stopped")
}

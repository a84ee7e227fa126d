package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/interestplan/mortgage-agent/internal/cache"
	"github.com/interestplan/mortgage-agent/internal/config"
	"github.com/interestplan/mortgage-agent/internal/ratelimit"
	"github.com/interestplan/mortgage-agent/internal/server"
	"github.com/interestplan/mortgage-agent/pkg/constants"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

// initializeLogger creates a zap logger based on configuration and CLI override
func initializeLogger(loggingConfig config.LoggingConfig, logLevelOverride string) (*zap.Logger, error) {
	// Determine log level (CLI override takes precedence)
	level := loggingConfig.Level
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	format := loggingConfig.Format
	if format == "" {
		format = "json"
	}

	var zapConfig zap.Config
	switch format {
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	case "json":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	if loggingConfig.OutputFile != "" {
		if dir := filepath.Dir(loggingConfig.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
			}
		}

		if file, err := os.OpenFile(loggingConfig.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %v", loggingConfig.OutputFile, err)
		} else {
			_ = file.Close()
		}

		zapConfig.OutputPaths = []string{loggingConfig.OutputFile}
		zapConfig.ErrorOutputPaths = []string{loggingConfig.OutputFile}
	}

	return zapConfig.Build()
}

// selectCache picks the result cache backend. Redis is used only when an
// address is configured; otherwise the in-memory cache keeps the service
// self-contained.
func selectCache(conf *config.Configuration, logger *zap.Logger) (cache.Cache, func()) {
	if conf.Cache.Backend == "redis" && conf.Cache.RedisAddress != "" {
		redisCache := cache.NewRedis(conf.Cache.RedisAddress)
		logger.Info("using redis result cache",
			zap.String("op", "main"),
			zap.String("address", conf.Cache.RedisAddress),
		)
		return redisCache, func() { _ = redisCache.Close() }
	}
	return cache.NewMemory(), func() {}
}

func main() {
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		return
	}

	logger, err := initializeLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Validate configuration and display any warnings
	warnings := conf.ValidateConfiguration()
	for _, warning := range warnings {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	limits, err := conf.GuardLimits()
	if err != nil {
		logger.Fatal("failed to parse guardrail limits",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	cacheTTL, err := conf.CacheTTL()
	if err != nil {
		logger.Fatal("failed to parse cache ttl",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	window := time.Duration(constants.RateLimitWindowSeconds) * time.Second
	defaultLimiter := ratelimit.NewLimiter(conf.RateLimit.DefaultPerMinute, window)
	defer defaultLimiter.Stop()
	exportLimiter := ratelimit.NewLimiter(conf.RateLimit.ExportPerMinute, window)
	defer exportLimiter.Stop()

	resultCache, closeCache := selectCache(conf, logger)
	defer closeCache()

	handler := server.NewHandler(logger, server.Options{
		Limits:         limits,
		DefaultLimiter: defaultLimiter,
		ExportLimiter:  exportLimiter,
		Cache:          resultCache,
		CacheTTL:       cacheTTL,
	})

	httpServer := &http.Server{
		Addr:    conf.Server.Address,
		Handler: handler,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			zap.String("op", "main"),
			zap.String("address", conf.Server.Address),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		logger.Fatal("HTTP server failed",
			zap.String("op", "main"),
			zap.Error(err),
		)
	case sig := <-stop:
		logger.Info("shutting down",
			zap.String("op", "main"),
			zap.String("signal", sig.String()),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}

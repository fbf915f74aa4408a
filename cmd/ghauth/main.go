package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/spoke-ghauth/pkg/config"
	"github.com/platinummonkey/spoke-ghauth/pkg/membership"
	"github.com/platinummonkey/spoke-ghauth/pkg/middleware"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
	"github.com/platinummonkey/spoke-ghauth/pkg/plugin"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (default $GHAUTH_CONFIG)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.WithField("version", version).Info("Starting GitHub organization gate")

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	serviceVersion := cfg.Observability.OTel.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTel.Enabled,
		Endpoint:       cfg.Observability.OTel.Endpoint,
		ServiceName:    cfg.Observability.OTel.ServiceName,
		ServiceVersion: serviceVersion,
		Insecure:       cfg.Observability.OTel.Insecure,
		SampleRatio:    cfg.Observability.OTel.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Cache.Backend == config.CacheBackendRedis {
		redisClient, err = membership.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
	}

	p, err := plugin.New(cfg.Plugin(), plugin.Options{
		Logger:    logger,
		Metrics:   metrics,
		Redis:     redisClient,
		CacheSize: cfg.Cache.Size,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	})
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(version).
		AddDependency("upstream", true, observability.HTTPProbe(nil, strings.TrimRight(cfg.Upstream, "/")+"/-/ping"))
	if redisClient != nil {
		health.AddDependency("redis", false, observability.RedisProbe(redisClient))
	}

	handler, err := newHandler(handlerDeps{
		config:   cfg,
		plugin:   p,
		health:   health,
		metrics:  metrics,
		registry: registry,
		logger:   logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      otelhttp.NewHandler(handler, "ghauth"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	if tracerProvider != nil {
		shutdown.RegisterShutdownFunc("tracer", tracerProvider.Shutdown)
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"listen":   cfg.Listen,
			"upstream": cfg.Upstream,
		}).Info("Listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var listenErr error
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case listenErr = <-serveErr:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err = shutdown.WaitForShutdown(waitCtx)
	cancel()
	<-watched

	if listenErr != nil {
		return fmt.Errorf("HTTP server failed: %w", listenErr)
	}
	return err
}

// Package observability provides logging, Prometheus metrics, tracing, health
// checks and graceful shutdown for the GitHub auth gateway.
//
// # Logging
//
// Loggers are logrus loggers; components accept a logrus.FieldLogger:
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	observability.FromContext(r.Context(), logger).WithField("org", org).Info("access granted")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveUpstream(github.OpFetchOrganizations, 200, elapsed)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Recording methods are nil-safe, so a nil *Metrics disables metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		AddDependency("upstream", true, observability.HTTPProbe(nil, upstream+"/-/ping")).
//		AddDependency("redis", false, observability.RedisProbe(redisClient))
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//
// # Related Packages
//
//   - pkg/httputil: request logging and recovery middleware
//   - pkg/config: observability configuration
package observability

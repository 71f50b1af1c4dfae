// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing, health checks and graceful shutdown for the credits services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("component", "sweeper").Infof("expired %d users", n)
//
// Request-scoped loggers carry request and user IDs:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Warn("consume rejected")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordOperation("consume", "success", time.Since(start))
//
// Record* methods are no-ops on a nil *Metrics, so services can run without metrics.
//
// # Health Checks
//
// /health/live always answers 200. /health/ready answers 503 when the database is
// unreachable and 200 (degraded) when only the Redis cache is down.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric providers globally; Tracer returns the
// tracer the ledger packages start their spans with.
package observability

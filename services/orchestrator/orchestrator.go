// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator hosts the relay pipeline behind an HTTP server.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRelay/pkg/extensions"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianRelay/services/relay"
	"github.com/AleutianAI/AleutianRelay/services/relay/config"
)

// Service is the HTTP host for the relay pipeline.
type Service struct {
	cfg           *config.Config
	orch          *relay.Orchestrator
	router        *gin.Engine
	metrics       *observability.QueryMetrics
	logger        *slog.Logger
	tracerCleanup func(context.Context)
}

// New assembles the service: pipeline, tracing, metrics, and routes.
//
// ext carries deployment-specific audit and filter hooks; nil selects
// the no-op defaults of the open-source build.
func New(cfg *config.Config, logger *slog.Logger, ext *extensions.Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	orch, err := relay.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building pipeline: %w", err)
	}
	orch.SetExtensions(ext)

	s := &Service{
		cfg:     cfg,
		orch:    orch,
		metrics: observability.NewQueryMetrics(prometheus.DefaultRegisterer),
		logger:  logger,
	}

	if cfg.Telemetry.Enabled {
		cleanup, err := s.initTracer()
		if err != nil {
			logger.Warn("tracing disabled, exporter setup failed", "error", err)
		} else {
			s.tracerCleanup = cleanup
		}
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("relay-orchestrator"))
	routes.SetupRoutes(s.router, s.orch, s.metrics)

	return s, nil
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("starting relay server", "addr", addr)
	return s.router.Run(addr)
}

// cleanup releases pipeline resources and flushes traces.
func (s *Service) cleanup() {
	if s.orch != nil {
		if err := s.orch.Close(); err != nil {
			s.logger.Warn("pipeline close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer sets up the OTLP trace exporter.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (internal networks only).
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.Telemetry.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("relay-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

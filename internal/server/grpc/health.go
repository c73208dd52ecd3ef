// Package grpcserver runs the admin gRPC endpoint: the standard health
// service, driven by a readiness probe of the gateway's dependencies.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") health status.
const ServiceName = "churnguard.Gateway"

// DefaultProbeInterval is used when Health is built with a non-positive interval.
const DefaultProbeInterval = 10 * time.Second

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Health keeps the health service's status in line with a readiness probe.
type Health struct {
	srv      *health.Server
	probe    Probe
	interval time.Duration
	log      *zap.Logger
}

// NewHealth starts in NOT_SERVING until the first probe succeeds.
func NewHealth(probe Probe, interval time.Duration, log *zap.Logger) *Health {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	h := &Health{srv: health.NewServer(), probe: probe, interval: interval, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}

// Check runs the probe once and publishes the result.
func (h *Health) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.probe(ctx); err != nil {
		h.log.Warn("readiness probe failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes until ctx is done, then marks the service as shutting down.
func (h *Health) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

// NewServer builds a gRPC server exposing the health service.
func NewServer(h *Health, log *zap.Logger) *grpc.Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)))
	healthpb.RegisterHealthServer(gs, h.srv)
	return gs
}

// Package observability provides OpenTelemetry metrics for the verification
// pipeline: consensus round rate and latency, per-node solicitation
// failures, and decision outcomes.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC endpoint, e.g. "localhost:4317"
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "verdict",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the meter provider and the pipeline's instruments. A nil
// *Provider is valid and records nothing, so callers never need to guard
// instrumentation sites.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger

	roundsTotal      metric.Int64Counter
	roundLatency     metric.Float64Histogram
	nodeFailures     metric.Int64Counter
	decisionOutcomes metric.Int64Counter
}

// New creates a metrics provider. With Enabled false the instruments are
// no-ops and nothing is exported.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "observability")}

	var meter metric.Meter
	if cfg.Enabled {
		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}

		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
		meter = p.meterProvider.Meter("github.com/Mindburn-Labs/verdict")
		p.logger.Info("metrics export enabled", "endpoint", cfg.OTLPEndpoint)
	} else {
		meter = noop.NewMeterProvider().Meter("github.com/Mindburn-Labs/verdict")
	}

	var err error
	if p.roundsTotal, err = meter.Int64Counter("verdict.consensus.rounds",
		metric.WithDescription("Completed consensus rounds")); err != nil {
		return nil, err
	}
	if p.roundLatency, err = meter.Float64Histogram("verdict.consensus.round_latency",
		metric.WithDescription("Wall-clock round latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if p.nodeFailures, err = meter.Int64Counter("verdict.consensus.node_failures",
		metric.WithDescription("Per-node solicitation failures")); err != nil {
		return nil, err
	}
	if p.decisionOutcomes, err = meter.Int64Counter("verdict.decisions",
		metric.WithDescription("Decision records by terminal disposition")); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordRound records a completed consensus round.
func (p *Provider) RecordRound(ctx context.Context, approved bool, signatureCount int, latency time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("approved", approved),
		attribute.Int("signature_count", signatureCount),
	)
	p.roundsTotal.Add(ctx, 1, attrs)
	p.roundLatency.Record(ctx, float64(latency.Milliseconds()), attrs)
}

// RecordNodeFailure records one verifier failing to respond within a round.
func (p *Provider) RecordNodeFailure(ctx context.Context, verifierID string) {
	if p == nil {
		return
	}
	p.nodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("verifier_id", verifierID)))
}

// RecordDecision records a decision reaching a status of interest.
func (p *Provider) RecordDecision(ctx context.Context, status string) {
	if p == nil {
		return
	}
	p.decisionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

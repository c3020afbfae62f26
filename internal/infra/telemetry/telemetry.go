package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/infra/config"
)

// Provider is the process-wide telemetry handle. Tracing is optional; when
// no OTLP endpoint is configured the provider is inert and Shutdown is a
// no-op.
type Provider struct {
	tracer *TracerProvider
}

// Attach wires up tracing exporters for the service.
func Attach(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{}

	if cfg.Telemetry.OTLPEndpoint == "" {
		logger.Info("tracing disabled, no OTLP endpoint configured")
		return p, nil
	}

	tracer, err := NewTracerProvider(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}
	p.tracer = tracer

	return p, nil
}

// Tracer returns the tracer provider, or nil when tracing is disabled.
func (p *Provider) Tracer() *TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracer
}

// Shutdown flushes and stops the configured exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracer == nil {
		return nil
	}
	return p.tracer.Shutdown(ctx)
}

package observability

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultMetricInterval = 10 * time.Second

// Config экспорт трейсов и метрик сервиса конвейера в OTLP collector
type Config struct {
	Enabled bool
	// OTLPEndpoint host:port OTLP gRPC, например "otel-collector:4317"
	OTLPEndpoint string
	// SamplingRatio вне (0..1] считается как 1: трассы конвейера короткие, теряем мало
	SamplingRatio         float64
	ServiceName           string
	DeploymentEnvironment string
	ServiceVersion        string
	// MetricInterval период выгрузки метрик, по умолчанию 10s
	MetricInterval time.Duration
}

func (c Config) validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability: OTLP endpoint is required when enabled"))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("observability: service name is required when enabled"))
	}
	return errors.Join(errs...)
}

func (c Config) sampler() sdktrace.Sampler {
	ratio := c.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	// решение о семплировании приходит от родителя из traceparent события
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func (c Config) metricInterval() time.Duration {
	if c.MetricInterval <= 0 {
		return defaultMetricInterval
	}
	return c.MetricInterval
}

func (c Config) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.namespace", "orderflow"),
		attribute.String("deployment.environment", c.DeploymentEnvironment),
	}
	if c.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", c.ServiceVersion))
	}
	return attrs
}

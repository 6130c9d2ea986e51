package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ericselin/tableserve"

// Telemetry owns the meter and the registry the metrics endpoint serves.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	Meter    metric.Meter
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	lookup    metric.Float64Histogram
	responses metric.Int64Counter
}

func NewTelemetry() (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	lookup, err := meter.Float64Histogram("tableserve.lookup.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent reading the routing table for one request"))
	if err != nil {
		return nil, err
	}
	responses, err := meter.Int64Counter("tableserve.responses",
		metric.WithDescription("Responses by status and outcome"))
	if err != nil {
		return nil, err
	}
	return &Telemetry{
		Meter:     meter,
		registry:  registry,
		provider:  provider,
		lookup:    lookup,
		responses: responses,
	}, nil
}

// RecordLookup records the duration of one routing table read.
func (t *Telemetry) RecordLookup(ctx context.Context, d time.Duration, failed bool) {
	if t == nil {
		return
	}
	t.lookup.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.Bool("failed", failed)))
}

// RecordResponse counts a response sent to a client.
func (t *Telemetry) RecordResponse(ctx context.Context, status int, outcome string) {
	if t == nil {
		return
	}
	t.responses.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("status", status),
		attribute.String("outcome", outcome)))
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/z5labs/staticd"
	"github.com/z5labs/staticd/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultOTLPEndpoint is the collector's standard OTLP/gRPC address.
const DefaultOTLPEndpoint = "localhost:4317"

// Exporter names where spans and metrics are sent.
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// UnknownExporterError is returned when parsing an unsupported exporter name.
type UnknownExporterError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown telemetry exporter: %q", e.Name)
}

// ParseExporter parses one of "none", "stdout" or "otlp".
func ParseExporter(s string) (Exporter, error) {
	switch e := Exporter(s); e {
	case ExporterNone, ExporterStdout, ExporterOTLP:
		return e, nil
	default:
		return "", UnknownExporterError{Name: s}
	}
}

// String implements the [fmt.Stringer] interface.
func (e Exporter) String() string {
	return string(e)
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (e *Exporter) UnmarshalText(b []byte) error {
	v, err := ParseExporter(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// BuildSpanExporter returns a Builder for the span exporter named by exporter.
// The stdout exporter writes to w and the otlp exporter dials endpoint
// over insecure gRPC.
func BuildSpanExporter(
	exporter config.Reader[Exporter],
	endpoint config.Reader[string],
	w io.Writer,
) staticd.Builder[sdktrace.SpanExporter] {
	return staticd.BuilderFunc[sdktrace.SpanExporter](func(ctx context.Context) (sdktrace.SpanExporter, error) {
		switch e := config.MustOr(ctx, ExporterNone, exporter); e {
		case ExporterNone:
			return noopSpanExporter{}, nil
		case ExporterStdout:
			return stdouttrace.New(stdouttrace.WithWriter(w))
		case ExporterOTLP:
			return otlptracegrpc.New(
				ctx,
				otlptracegrpc.WithEndpoint(config.MustOr(ctx, DefaultOTLPEndpoint, endpoint)),
				otlptracegrpc.WithInsecure(),
			)
		default:
			return nil, UnknownExporterError{Name: string(e)}
		}
	})
}

// BuildMetricExporter is the metric counterpart of [BuildSpanExporter].
func BuildMetricExporter(
	exporter config.Reader[Exporter],
	endpoint config.Reader[string],
	w io.Writer,
) staticd.Builder[sdkmetric.Exporter] {
	return staticd.BuilderFunc[sdkmetric.Exporter](func(ctx context.Context) (sdkmetric.Exporter, error) {
		switch e := config.MustOr(ctx, ExporterNone, exporter); e {
		case ExporterNone:
			return noopMetricExporter{}, nil
		case ExporterStdout:
			return stdoutmetric.New(stdoutmetric.WithWriter(w))
		case ExporterOTLP:
			return otlpmetricgrpc.New(
				ctx,
				otlpmetricgrpc.WithEndpoint(config.MustOr(ctx, DefaultOTLPEndpoint, endpoint)),
				otlpmetricgrpc.WithInsecure(),
			)
		default:
			return nil, UnknownExporterError{Name: string(e)}
		}
	})
}

type noopSpanExporter struct{}

func (noopSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

type noopMetricExporter struct{}

func (noopMetricExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopMetricExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (noopMetricExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	return nil
}

func (noopMetricExporter) ForceFlush(ctx context.Context) error {
	return nil
}

func (noopMetricExporter) Shutdown(ctx context.Context) error {
	return nil
}

// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/z5labs/staticd"
	"github.com/z5labs/staticd/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultShutdownTimeout bounds how long providers may take to flush
// once the wrapped runtime returns.
const DefaultShutdownTimeout = 5 * time.Second

// BuildResource describes this process as serviceName on top of the
// SDK's default resource.
func BuildResource(serviceName config.Reader[string]) staticd.Builder[*resource.Resource] {
	return staticd.BuilderFunc[*resource.Resource](func(ctx context.Context) (*resource.Resource, error) {
		return resource.Merge(
			resource.Default(),
			resource.NewSchemaless(
				attribute.String("service.name", config.MustOr(ctx, "staticd", serviceName)),
			),
		)
	})
}

// BuildTraceIDRatioBasedSampler samples root spans at ratio and otherwise
// follows the parent's decision.
func BuildTraceIDRatioBasedSampler(ratio config.Reader[float64]) staticd.Builder[sdktrace.Sampler] {
	return staticd.BuilderFunc[sdktrace.Sampler](func(ctx context.Context) (sdktrace.Sampler, error) {
		sampler := sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(config.MustOr(ctx, 1, ratio)),
		)

		return sampler, nil
	})
}

func BuildTracerProvider[E sdktrace.SpanExporter](
	resourceBuilder staticd.Builder[*resource.Resource],
	samplerBuilder staticd.Builder[sdktrace.Sampler],
	exporterBuilder staticd.Builder[E],
) staticd.Builder[*sdktrace.TracerProvider] {
	return staticd.BuilderFunc[*sdktrace.TracerProvider](func(ctx context.Context) (*sdktrace.TracerProvider, error) {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(staticd.MustBuild(ctx, resourceBuilder)),
			sdktrace.WithSampler(staticd.MustBuild(ctx, samplerBuilder)),
			sdktrace.WithBatcher(staticd.MustBuild(ctx, exporterBuilder)),
		)

		return tp, nil
	})
}

func BuildMeterProvider[E sdkmetric.Exporter](
	resourceBuilder staticd.Builder[*resource.Resource],
	exporterBuilder staticd.Builder[E],
) staticd.Builder[*sdkmetric.MeterProvider] {
	return staticd.BuilderFunc[*sdkmetric.MeterProvider](func(ctx context.Context) (*sdkmetric.MeterProvider, error) {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(staticd.MustBuild(ctx, resourceBuilder)),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(staticd.MustBuild(ctx, exporterBuilder)),
			),
		)

		return mp, nil
	})
}

// Runtime installs its providers as the OpenTelemetry globals for as long
// as the wrapped runtime runs and shuts them down afterwards.
type Runtime[
	T trace.TracerProvider,
	M metric.MeterProvider,
	R staticd.Runtime,
] struct {
	textMapPropagator propagation.TextMapPropagator
	tracerProvider    T
	meterProvider     M
	runtime           R
	shutdownTimeout   time.Duration
}

func BuildRuntime[
	T trace.TracerProvider,
	M metric.MeterProvider,
	R staticd.Runtime,
](
	tracerProviderBuilder staticd.Builder[T],
	meterProviderBuilder staticd.Builder[M],
	runtimeBuilder staticd.Builder[R],
) staticd.Builder[Runtime[T, M, R]] {
	return staticd.BuilderFunc[Runtime[T, M, R]](func(ctx context.Context) (Runtime[T, M, R], error) {
		tracerProvider := staticd.MustBuild(ctx, tracerProviderBuilder)
		meterProvider := staticd.MustBuild(ctx, meterProviderBuilder)
		runtime := staticd.MustBuild(ctx, runtimeBuilder)

		return Runtime[T, M, R]{
			textMapPropagator: propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			),
			tracerProvider:  tracerProvider,
			meterProvider:   meterProvider,
			runtime:         runtime,
			shutdownTimeout: DefaultShutdownTimeout,
		}, nil
	})
}

type shutdownInterface interface {
	Shutdown(ctx context.Context) error
}

// Run implements the [staticd.Runtime] interface.
func (r Runtime[T, M, R]) Run(ctx context.Context) (err error) {
	shutdownFuncs := make([]func(context.Context) error, 2)

	otel.SetTextMapPropagator(r.textMapPropagator)

	otel.SetTracerProvider(r.tracerProvider)
	if sd, ok := any(r.tracerProvider).(shutdownInterface); ok {
		shutdownFuncs[0] = sd.Shutdown
	}

	otel.SetMeterProvider(r.meterProvider)
	if sd, ok := any(r.meterProvider).(shutdownInterface); ok {
		shutdownFuncs[1] = sd.Shutdown
	}

	defer func() {
		// ctx is usually cancelled by now and flushing still needs a deadline
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
		defer cancel()

		shutdownErrs := make([]error, len(shutdownFuncs))
		for i, shutdown := range shutdownFuncs {
			if shutdown == nil {
				continue
			}
			shutdownErrs[i] = shutdown(sctx)
		}
		err = errors.Join(err, errors.Join(shutdownErrs...))
	}()

	return r.runtime.Run(ctx)
}

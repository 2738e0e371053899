// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/z5labs/staticd"
	"github.com/z5labs/staticd/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseExporter(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expect    Exporter
		expectErr bool
	}{
		{name: "none", input: "none", expect: ExporterNone},
		{name: "stdout", input: "stdout", expect: ExporterStdout},
		{name: "otlp", input: "otlp", expect: ExporterOTLP},
		{name: "unknown", input: "jaeger", expectErr: true},
		{name: "case sensitive", input: "STDOUT", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := ParseExporter(tc.input)
			if tc.expectErr {
				var uerr UnknownExporterError
				require.ErrorAs(t, err, &uerr)
				require.Equal(t, tc.input, uerr.Name)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, e)
		})
	}
}

func TestExporter_UnmarshalText(t *testing.T) {
	var e Exporter
	require.NoError(t, e.UnmarshalText([]byte("otlp")))
	require.Equal(t, ExporterOTLP, e)

	require.Error(t, e.UnmarshalText([]byte("zipkin")))
	require.Equal(t, ExporterOTLP, e)
}

func TestBuildSpanExporter(t *testing.T) {
	t.Run("defaults to none", func(t *testing.T) {
		exp, err := BuildSpanExporter(nil, nil, nil).Build(context.Background())
		require.NoError(t, err)
		require.IsType(t, noopSpanExporter{}, exp)
	})

	t.Run("stdout writes spans to the writer", func(t *testing.T) {
		var buf bytes.Buffer
		exp, err := BuildSpanExporter(config.ReaderOf(ExporterStdout), nil, &buf).Build(context.Background())
		require.NoError(t, err)

		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		_, span := tp.Tracer("test").Start(context.Background(), "serve file")
		span.End()
		require.NoError(t, tp.Shutdown(context.Background()))

		require.Contains(t, buf.String(), "serve file")
	})

	t.Run("otlp dials lazily", func(t *testing.T) {
		exp, err := BuildSpanExporter(config.ReaderOf(ExporterOTLP), config.ReaderOf("127.0.0.1:1"), nil).Build(context.Background())
		require.NoError(t, err)
		require.NotNil(t, exp)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		exp.Shutdown(ctx)
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := BuildSpanExporter(config.ReaderOf(Exporter("zipkin")), nil, nil).Build(context.Background())

		var uerr UnknownExporterError
		require.ErrorAs(t, err, &uerr)
	})
}

func TestBuildMetricExporter(t *testing.T) {
	t.Run("defaults to none", func(t *testing.T) {
		exp, err := BuildMetricExporter(nil, nil, nil).Build(context.Background())
		require.NoError(t, err)
		require.IsType(t, noopMetricExporter{}, exp)
	})

	t.Run("stdout writes metrics to the writer", func(t *testing.T) {
		var buf bytes.Buffer
		exp, err := BuildMetricExporter(config.ReaderOf(ExporterStdout), nil, &buf).Build(context.Background())
		require.NoError(t, err)

		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		counter, err := mp.Meter("test").Int64Counter("staticd.test.requests")
		require.NoError(t, err)
		counter.Add(context.Background(), 1)
		require.NoError(t, mp.Shutdown(context.Background()))

		require.Contains(t, buf.String(), "staticd.test.requests")
	})
}

func TestBuildResource(t *testing.T) {
	res, err := BuildResource(config.ReaderOf("files")).Build(context.Background())
	require.NoError(t, err)

	v, ok := res.Set().Value("service.name")
	require.True(t, ok)
	require.Equal(t, "files", v.AsString())
}

func TestRuntime_Run(t *testing.T) {
	newRuntime := func(spans, metrics *bytes.Buffer, rt staticd.Runtime) staticd.Builder[Runtime[*sdktrace.TracerProvider, *sdkmetric.MeterProvider, staticd.Runtime]] {
		res := BuildResource(config.ReaderOf("staticd-test"))
		return BuildRuntime(
			BuildTracerProvider(
				res,
				BuildTraceIDRatioBasedSampler(nil),
				BuildSpanExporter(config.ReaderOf(ExporterStdout), nil, spans),
			),
			BuildMeterProvider(
				res,
				BuildMetricExporter(config.ReaderOf(ExporterStdout), nil, metrics),
			),
			staticd.BuilderOf(rt),
		)
	}

	t.Run("installs providers and flushes them on return", func(t *testing.T) {
		var spans, metrics bytes.Buffer
		rt := staticd.RuntimeFunc(func(ctx context.Context) error {
			_, span := otel.Tracer("test").Start(ctx, "handle request")
			span.End()

			counter, err := otel.Meter("test").Int64Counter("staticd.test.connections")
			if err != nil {
				return err
			}
			counter.Add(ctx, 1)
			return nil
		})

		err := staticd.DefaultRunner[Runtime[*sdktrace.TracerProvider, *sdkmetric.MeterProvider, staticd.Runtime]]().
			Run(context.Background(), newRuntime(&spans, &metrics, rt))
		require.NoError(t, err)

		require.Contains(t, spans.String(), "handle request")
		require.Contains(t, spans.String(), "staticd-test")
		require.Contains(t, metrics.String(), "staticd.test.connections")
	})

	t.Run("flushes even if the context is cancelled", func(t *testing.T) {
		var spans, metrics bytes.Buffer
		ctx, cancel := context.WithCancel(context.Background())
		rt := staticd.RuntimeFunc(func(ctx context.Context) error {
			_, span := otel.Tracer("test").Start(ctx, "cancelled request")
			span.End()
			cancel()
			return ctx.Err()
		})

		err := staticd.DefaultRunner[Runtime[*sdktrace.TracerProvider, *sdkmetric.MeterProvider, staticd.Runtime]]().
			Run(ctx, newRuntime(&spans, &metrics, rt))
		require.ErrorIs(t, err, context.Canceled)
		require.Contains(t, spans.String(), "cancelled request")
	})

	t.Run("returns runtime error", func(t *testing.T) {
		var spans, metrics bytes.Buffer
		errRun := errors.New("listen failed")
		rt := staticd.RuntimeFunc(func(ctx context.Context) error {
			return errRun
		})

		err := staticd.DefaultRunner[Runtime[*sdktrace.TracerProvider, *sdkmetric.MeterProvider, staticd.Runtime]]().
			Run(context.Background(), newRuntime(&spans, &metrics, rt))
		require.ErrorIs(t, err, errRun)
	})
}

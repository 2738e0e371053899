// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/z5labs/staticd"
	"github.com/z5labs/staticd/config"
	"github.com/z5labs/staticd/internal/slogfield"
	"github.com/z5labs/staticd/server"
	"github.com/z5labs/staticd/static"
	"github.com/z5labs/staticd/telemetry"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type serveRuntime = telemetry.Runtime[*sdktrace.TracerProvider, *sdkmetric.MeterProvider, *server.Server]

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve static files (default)",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("host", "", "interface to listen on (env STATICD_HOST)")
	fs.IntP("port", "p", server.DefaultPort, "port to listen on (env STATICD_PORT)")
	fs.Int("max-workers", server.DefaultMaxWorkers, "maximum concurrently served connections (env STATICD_MAX_WORKERS)")
	fs.Int("min-ready-workers", server.DefaultMinReadyWorkers, "workers kept ready for new connections (env STATICD_MIN_READY_WORKERS)")
	fs.StringP("root", "r", server.DefaultRoot, "folder to serve files from (env STATICD_ROOT)")
	fs.Duration("idle-timeout", server.DefaultIdleTimeout, "how long a keep-alive connection may wait for its next request (env STATICD_IDLE_TIMEOUT)")
	fs.Duration("busy-write-timeout", server.DefaultBusyWriteTimeout, "deadline for writing a 503 to a rejected connection (env STATICD_BUSY_WRITE_TIMEOUT)")
	fs.String("telemetry-exporter", string(telemetry.ExporterNone), "where spans and metrics go: none, stdout or otlp (env STATICD_TELEMETRY_EXPORTER)")
	fs.String("telemetry-endpoint", telemetry.DefaultOTLPEndpoint, "OTLP/gRPC collector address (env STATICD_TELEMETRY_ENDPOINT)")
	fs.String("service-name", "staticd", "service.name resource attribute (env STATICD_SERVICE_NAME)")
	fs.Float64("trace-sample-ratio", 1, "fraction of root spans sampled (env STATICD_TRACE_SAMPLE_RATIO)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := loadSettings(ctx, cmd.Flags())
	if err != nil {
		return err
	}

	log := newLogger(cmd.ErrOrStderr(), s.logLevel)
	slog.SetDefault(log)

	runner := staticd.NotifyOnSignal(
		staticd.RecoverPanics(
			staticd.DefaultRunner[serveRuntime](),
		),
		os.Interrupt,
		syscall.SIGTERM,
	)

	err = runner.Run(ctx, buildServeRuntime(s, log, cmd.OutOrStdout()))
	if err != nil {
		logRunError(ctx, log, err)
		return err
	}
	return nil
}

func buildServeRuntime(s settings, log *slog.Logger, telemetryOut io.Writer) staticd.Builder[serveRuntime] {
	res := telemetry.BuildResource(config.ReaderOf(s.telemetry.serviceName))
	exporter := config.ReaderOf(s.telemetry.exporter)
	endpoint := config.ReaderOf(s.telemetry.endpoint)

	return telemetry.BuildRuntime(
		telemetry.BuildTracerProvider(
			res,
			telemetry.BuildTraceIDRatioBasedSampler(config.ReaderOf(s.telemetry.sampleRatio)),
			telemetry.BuildSpanExporter(exporter, endpoint, telemetryOut),
		),
		telemetry.BuildMeterProvider(
			res,
			telemetry.BuildMetricExporter(exporter, endpoint, telemetryOut),
		),
		buildServer(s.server, log),
	)
}

func buildServer(cfg server.Config, log *slog.Logger) staticd.Builder[*server.Server] {
	resolver := staticd.BuilderFunc[*static.Resolver](func(ctx context.Context) (*static.Resolver, error) {
		return static.NewResolver(cfg.Root)
	})

	return staticd.Map(resolver, func(ctx context.Context, r *static.Resolver) (*server.Server, error) {
		h, err := static.NewHandler(r, static.Logger(log))
		if err != nil {
			return nil, err
		}

		log.InfoContext(
			ctx,
			"serving files",
			slogfield.String("root", r.Root()),
			slogfield.Int("max_workers", cfg.MaxWorkers),
			slogfield.Duration("idle_timeout", cfg.IdleTimeout),
		)
		return server.Listen(cfg, h, server.Logger(log))
	})
}

func logRunError(ctx context.Context, log *slog.Logger, err error) {
	var (
		rootErr   static.RootError
		listenErr server.ListenError
		acceptErr server.AcceptError
	)
	switch {
	case errors.As(err, &rootErr):
		log.ErrorContext(ctx, "root folder is not usable", slogfield.String("root", rootErr.Root), slogfield.Error(err))
	case errors.As(err, &listenErr):
		log.ErrorContext(ctx, "failed to listen", slogfield.String("addr", listenErr.Addr), slogfield.Error(err))
	case errors.As(err, &acceptErr):
		log.ErrorContext(ctx, "stopped accepting connections", slogfield.Error(err))
	default:
		log.ErrorContext(ctx, "failed to run", slogfield.Error(err))
	}
}

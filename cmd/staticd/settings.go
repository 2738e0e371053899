// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/z5labs/staticd/config"
	"github.com/z5labs/staticd/internal/try"
	"github.com/z5labs/staticd/server"
	"github.com/z5labs/staticd/telemetry"

	"github.com/spf13/pflag"
)

const envPrefix = "STATICD_"

// fileConfig mirrors the YAML config file. Every field is a pointer so
// absent keys fall through to the environment and defaults.
type fileConfig struct {
	Host             *string        `config:"host"`
	Port             *int           `config:"port"`
	MaxWorkers       *int           `config:"max_workers"`
	MinReadyWorkers  *int           `config:"min_ready_workers"`
	Root             *string        `config:"root"`
	IdleTimeout      *time.Duration `config:"idle_timeout"`
	BusyWriteTimeout *time.Duration `config:"busy_write_timeout"`
	LogLevel         *slog.Level    `config:"log_level"`

	Telemetry struct {
		Exporter    *telemetry.Exporter `config:"exporter"`
		Endpoint    *string             `config:"endpoint"`
		ServiceName *string             `config:"service_name"`
		SampleRatio *float64            `config:"sample_ratio"`
	} `config:"telemetry"`
}

type telemetrySettings struct {
	exporter    telemetry.Exporter
	endpoint    string
	serviceName string
	sampleRatio float64
}

type settings struct {
	server    server.Config
	logLevel  slog.Level
	telemetry telemetrySettings
}

// ConfigFileError is returned when an explicitly requested config file
// can not be loaded.
type ConfigFileError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigFileError) Error() string {
	return fmt.Sprintf("failed to load config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigFileError) Unwrap() error {
	return e.Cause
}

// flagValue is set only when the flag was given on the command line so
// that flag defaults never shadow the environment or the config file.
func flagValue[T any](flags *pflag.FlagSet, name string, get func(string) (T, error)) config.Reader[T] {
	return config.ReaderFunc[T](func(ctx context.Context) (config.Value[T], error) {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			return config.Value[T]{}, nil
		}
		v, err := get(name)
		if err != nil {
			return config.Value[T]{}, err
		}
		return config.ValueOf(v), nil
	})
}

func env(name string) config.Reader[string] {
	return config.Env(envPrefix + name)
}

func parseLevel(r config.Reader[string]) config.Reader[slog.Level] {
	return config.Map(r, func(ctx context.Context, s string) (slog.Level, error) {
		var lvl slog.Level
		err := lvl.UnmarshalText([]byte(s))
		return lvl, err
	})
}

func parseExporter(r config.Reader[string]) config.Reader[telemetry.Exporter] {
	return config.Map(r, func(ctx context.Context, s string) (telemetry.Exporter, error) {
		return telemetry.ParseExporter(s)
	})
}

func readFileConfig(ctx context.Context, flags *pflag.FlagSet) (fileConfig, error) {
	path, err := config.Read(ctx, config.Or(
		flagValue(flags, "config", flags.GetString),
		env("CONFIG"),
	))
	if errors.Is(err, config.ErrValueNotSet) {
		return fileConfig{}, nil
	}
	if err != nil {
		return fileConfig{}, err
	}

	cfg, err := config.Read(ctx, config.Yaml[fileConfig](config.ReadFile(path)))
	if errors.Is(err, config.ErrValueNotSet) {
		return fileConfig{}, ConfigFileError{Path: path, Cause: fs.ErrNotExist}
	}
	if err != nil {
		return fileConfig{}, ConfigFileError{Path: path, Cause: err}
	}
	return cfg, nil
}

// loadSettings resolves every setting with the precedence
// flag > environment > config file > default.
func loadSettings(ctx context.Context, flags *pflag.FlagSet) (s settings, err error) {
	defer try.Recover(&err)

	file, err := readFileConfig(ctx, flags)
	if err != nil {
		return settings{}, err
	}

	maxWorkers := config.MustOr(ctx, server.DefaultMaxWorkers, config.Or(
		flagValue(flags, "max-workers", flags.GetInt),
		config.IntFromString(env("MAX_WORKERS")),
		config.PtrOf(file.MaxWorkers),
	))

	s.server = server.Config{
		Host: config.MustOr(ctx, "", config.Or(
			flagValue(flags, "host", flags.GetString),
			env("HOST"),
			config.PtrOf(file.Host),
		)),
		Port: config.MustOr(ctx, server.DefaultPort, config.Or(
			flagValue(flags, "port", flags.GetInt),
			config.IntFromString(env("PORT")),
			config.PtrOf(file.Port),
		)),
		MaxWorkers: maxWorkers,
		MinReadyWorkers: config.MustOr(ctx, min(server.DefaultMinReadyWorkers, maxWorkers), config.Or(
			flagValue(flags, "min-ready-workers", flags.GetInt),
			config.IntFromString(env("MIN_READY_WORKERS")),
			config.PtrOf(file.MinReadyWorkers),
		)),
		Root: config.MustOr(ctx, server.DefaultRoot, config.Or(
			flagValue(flags, "root", flags.GetString),
			env("ROOT"),
			config.PtrOf(file.Root),
		)),
		IdleTimeout: config.MustOr(ctx, server.DefaultIdleTimeout, config.Or(
			flagValue(flags, "idle-timeout", flags.GetDuration),
			config.DurationFromString(env("IDLE_TIMEOUT")),
			config.PtrOf(file.IdleTimeout),
		)),
		BusyWriteTimeout: config.MustOr(ctx, server.DefaultBusyWriteTimeout, config.Or(
			flagValue(flags, "busy-write-timeout", flags.GetDuration),
			config.DurationFromString(env("BUSY_WRITE_TIMEOUT")),
			config.PtrOf(file.BusyWriteTimeout),
		)),
	}

	s.logLevel = config.MustOr(ctx, slog.LevelInfo, config.Or(
		parseLevel(flagValue(flags, "log-level", flags.GetString)),
		parseLevel(env("LOG_LEVEL")),
		config.PtrOf(file.LogLevel),
	))

	s.telemetry = telemetrySettings{
		exporter: config.MustOr(ctx, telemetry.ExporterNone, config.Or(
			parseExporter(flagValue(flags, "telemetry-exporter", flags.GetString)),
			parseExporter(env("TELEMETRY_EXPORTER")),
			config.PtrOf(file.Telemetry.Exporter),
		)),
		endpoint: config.MustOr(ctx, telemetry.DefaultOTLPEndpoint, config.Or(
			flagValue(flags, "telemetry-endpoint", flags.GetString),
			env("TELEMETRY_ENDPOINT"),
			config.PtrOf(file.Telemetry.Endpoint),
		)),
		serviceName: config.MustOr(ctx, "staticd", config.Or(
			flagValue(flags, "service-name", flags.GetString),
			env("SERVICE_NAME"),
			config.PtrOf(file.Telemetry.ServiceName),
		)),
		sampleRatio: config.MustOr(ctx, 1, config.Or(
			flagValue(flags, "trace-sample-ratio", flags.GetFloat64),
			config.Float64FromString(env("TRACE_SAMPLE_RATIO")),
			config.PtrOf(file.Telemetry.SampleRatio),
		)),
	}

	return s, s.server.Validate()
}

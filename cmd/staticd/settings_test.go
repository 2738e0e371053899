// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/z5labs/staticd/server"
	"github.com/z5labs/staticd/telemetry"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "staticd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings(t *testing.T) {
	testCases := []struct {
		name   string
		args   func(t *testing.T) []string
		env    map[string]string
		verify func(t *testing.T, s settings)
	}{
		{
			name: "defaults",
			verify: func(t *testing.T, s settings) {
				require.Equal(t, server.DefaultConfig(), s.server)
				require.Equal(t, slog.LevelInfo, s.logLevel)
				require.Equal(t, telemetry.ExporterNone, s.telemetry.exporter)
				require.Equal(t, telemetry.DefaultOTLPEndpoint, s.telemetry.endpoint)
				require.Equal(t, "staticd", s.telemetry.serviceName)
				require.Equal(t, 1.0, s.telemetry.sampleRatio)
			},
		},
		{
			name: "config file overrides defaults",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, `
port: 9000
root: /srv/www
idle_timeout: 2000
busy_write_timeout: 250ms
log_level: debug
telemetry:
  exporter: stdout
  service_name: files
  sample_ratio: 0.5
`)}
			},
			verify: func(t *testing.T, s settings) {
				require.Equal(t, 9000, s.server.Port)
				require.Equal(t, "/srv/www", s.server.Root)
				require.Equal(t, 2*time.Second, s.server.IdleTimeout)
				require.Equal(t, 250*time.Millisecond, s.server.BusyWriteTimeout)
				require.Equal(t, slog.LevelDebug, s.logLevel)
				require.Equal(t, telemetry.ExporterStdout, s.telemetry.exporter)
				require.Equal(t, "files", s.telemetry.serviceName)
				require.Equal(t, 0.5, s.telemetry.sampleRatio)
			},
		},
		{
			name: "environment overrides config file",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, "port: 9000\nlog_level: debug\n")}
			},
			env: map[string]string{
				"STATICD_PORT":         "9001",
				"STATICD_LOG_LEVEL":    "warn",
				"STATICD_IDLE_TIMEOUT": "500",
			},
			verify: func(t *testing.T, s settings) {
				require.Equal(t, 9001, s.server.Port)
				require.Equal(t, slog.LevelWarn, s.logLevel)
				require.Equal(t, 500*time.Millisecond, s.server.IdleTimeout)
			},
		},
		{
			name: "flags override environment",
			args: func(t *testing.T) []string {
				return []string{"--port", "9002", "--root", "./public", "--telemetry-exporter", "otlp"}
			},
			env: map[string]string{
				"STATICD_PORT":               "9001",
				"STATICD_ROOT":               "/srv/www",
				"STATICD_TELEMETRY_EXPORTER": "stdout",
			},
			verify: func(t *testing.T, s settings) {
				require.Equal(t, 9002, s.server.Port)
				require.Equal(t, "./public", s.server.Root)
				require.Equal(t, telemetry.ExporterOTLP, s.telemetry.exporter)
			},
		},
		{
			name: "empty config path is ignored",
			env: map[string]string{
				"STATICD_CONFIG": "",
			},
			verify: func(t *testing.T, s settings) {
				require.Equal(t, server.DefaultPort, s.server.Port)
			},
		},
		{
			name: "min ready workers is capped by max workers",
			args: func(t *testing.T) []string {
				return []string{"--max-workers", "4"}
			},
			verify: func(t *testing.T, s settings) {
				require.Equal(t, 4, s.server.MaxWorkers)
				require.Equal(t, 4, s.server.MinReadyWorkers)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			var args []string
			if tc.args != nil {
				args = tc.args(t)
			}

			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(args))

			s, err := loadSettings(context.Background(), cmd.Flags())
			require.NoError(t, err)
			tc.verify(t, s)
		})
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		args   []string
		env    map[string]string
		verify func(t *testing.T, err error)
	}{
		{
			name: "missing config file",
			args: []string{"--config", filepath.Join(os.TempDir(), "staticd-does-not-exist.yaml")},
			verify: func(t *testing.T, err error) {
				var cerr ConfigFileError
				require.ErrorAs(t, err, &cerr)
				require.ErrorIs(t, err, fs.ErrNotExist)
			},
		},
		{
			name: "malformed environment value",
			env:  map[string]string{"STATICD_MAX_WORKERS": "lots"},
			verify: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "lots")
			},
		},
		{
			name: "unknown exporter",
			env:  map[string]string{"STATICD_TELEMETRY_EXPORTER": "zipkin"},
			verify: func(t *testing.T, err error) {
				var uerr telemetry.UnknownExporterError
				require.ErrorAs(t, err, &uerr)
			},
		},
		{
			name: "invalid server config",
			args: []string{"--port", "70000"},
			verify: func(t *testing.T, err error) {
				var ierr server.InvalidConfigError
				require.ErrorAs(t, err, &ierr)
				require.Equal(t, "port", ierr.Field)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tc.args))

			_, err := loadSettings(context.Background(), cmd.Flags())
			tc.verify(t, err)
		})
	}
}

func TestLoadSettings_InvalidConfigFile(t *testing.T) {
	path := writeConfig(t, "prot: 9000\n")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))

	_, err := loadSettings(context.Background(), cmd.Flags())

	var cerr ConfigFileError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, path, cerr.Path)
}

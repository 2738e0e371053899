// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"log/slog"
	"time"

	"github.com/z5labs/staticd/config"
	"github.com/z5labs/staticd/internal/slogfield"
	"github.com/z5labs/staticd/probe"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that a staticd instance is serving requests",
		Long: `probe sends GET requests to --url until it receives a 2xx response or
runs out of retries. 5xx responses, including the 503 a saturated server
answers with, are retried. The exit status is non-zero if the server is
unhealthy.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runProbe,
	}

	fs := cmd.Flags()
	fs.String("url", "http://127.0.0.1:8080/", "URL to request (env STATICD_PROBE_URL)")
	fs.Int("retries", 3, "number of retries after a failed attempt")
	fs.Duration("timeout", 2*time.Second, "timeout for each attempt")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	level, err := config.Read(ctx, config.Default(slog.LevelInfo, config.Or(
		parseLevel(flagValue(flags, "log-level", flags.GetString)),
		parseLevel(env("LOG_LEVEL")),
	)))
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), level)

	url := config.MustOr(ctx, "http://127.0.0.1:8080/", config.Or(
		flagValue(flags, "url", flags.GetString),
		env("PROBE_URL"),
	))
	retries, err := flags.GetInt("retries")
	if err != nil {
		return err
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return err
	}

	p := probe.New(
		probe.Logger(log),
		probe.Retries(retries),
		probe.Timeout(timeout),
	)

	err = p.Probe(ctx, url)
	if err != nil {
		log.ErrorContext(ctx, "probe failed", slogfield.String("url", url), slogfield.Error(err))
		return err
	}
	return nil
}

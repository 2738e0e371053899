// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command staticd serves the files below a root folder over HTTP/1.1.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/z5labs/staticd/internal/otelslog"

	"github.com/spf13/cobra"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staticd",
		Short: "Serve static files over HTTP/1.1",
		Long: `staticd serves the files below a root folder over HTTP/1.1.

Settings are read from flags, then STATICD_* environment variables, then
the YAML file given by --config, then built in defaults.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runServe,
	}

	pfs := cmd.PersistentFlags()
	pfs.String("config", "", "YAML config file (env STATICD_CONFIG)")
	pfs.String("log-level", "info", "minimum log level: debug, info, warn or error")

	addServeFlags(cmd)

	cmd.AddCommand(newServeCmd(), newProbeCmd())
	return cmd
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return otelslog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package staticd provides the small composition layer used to assemble and
// run the staticd file server.
//
// The package is built around three abstractions:
//
//   - Builder[T]: constructs a component with context support
//   - Runtime: a long running component
//   - Runner[T]: builds a component and runs it
//
// # Composition
//
// [Map] transforms the output of a Builder and [Bind] chains Builders so the
// output of one decides the next:
//
//	rt := staticd.Map(cfgBuilder, func(ctx context.Context, cfg server.Config) (*server.Server, error) {
//	    return server.Listen(cfg, handler)
//	})
//
// # Running
//
// Runners are wrapped to add process concerns:
//
//	runner := staticd.NotifyOnSignal(
//	    staticd.RecoverPanics(
//	        staticd.DefaultRunner[*server.Server](),
//	    ),
//	    os.Interrupt,
//	    syscall.SIGTERM,
//	)
//	if err := runner.Run(context.Background(), rt); err != nil {
//	    os.Exit(1)
//	}
package staticd

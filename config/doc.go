// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides a functional approach to reading and composing configuration values.
//
// The package is built around [Reader], a source of a single value which may
// or may not be present. [Value] distinguishes "not set" from "set to the zero
// value", which is what makes layered defaults possible.
//
// # Layering
//
// Sources are layered with [Or], first set value wins, and finished off with
// [Default]:
//
//	port := config.Default(8080, config.Or(
//	    portFlag,
//	    config.IntFromString(config.Env("STATICD_PORT")),
//	    config.PtrOf(file.Port),
//	))
//
// # Files
//
// [Yaml] decodes a YAML document into a struct whose fields carry a "config"
// tag. Combined with [ReadFile] a missing file is simply not set:
//
//	file := config.Yaml[FileConfig](config.ReadFile("staticd.yaml"))
//
// Pointer fields stay nil when the key is absent so they can take part in
// layering through [PtrOf].
//
// # Error Handling
//
// Readers distinguish between three states:
//   - Value is set (returns Value with set=true)
//   - Value is not set (returns Value with set=false, no error)
//   - Error occurred (returns error)
//
// The [Read] function converts "not set" to [ErrValueNotSet] for convenience.
package config

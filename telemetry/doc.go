// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry builds OpenTelemetry tracer and meter providers and
// installs them around a [staticd.Runtime].
//
// Spans and metrics can be discarded ("none"), pretty printed ("stdout") or
// sent to a collector over OTLP/gRPC ("otlp").
package telemetry

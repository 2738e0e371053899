// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	accepted metric.Int64Counter
	rejected metric.Int64Counter
	sessions metric.Int64UpDownCounter
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	accepted, err := meter.Int64Counter(
		"staticd.connections.accepted",
		metric.WithDescription("Connections handed to a worker."),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"staticd.connections.rejected",
		metric.WithDescription("Connections answered with 503 because every worker was busy."),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64UpDownCounter(
		"staticd.sessions.active",
		metric.WithDescription("Connections currently owned by a worker."),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"staticd.requests",
		metric.WithDescription("Requests dispatched to the handler."),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"staticd.request.duration",
		metric.WithDescription("Time spent producing and writing a response."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m := &metrics{
		accepted: accepted,
		rejected: rejected,
		sessions: sessions,
		requests: requests,
		duration: duration,
	}
	return m, nil
}

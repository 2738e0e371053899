// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package probe checks that a staticd instance is serving requests.
//
// A server with every worker busy answers 503, so the probe retries
// 5xx responses and connection errors with backoff before giving up.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/staticd/internal/slogfield"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// UnhealthyError is returned when the final response is not a 2xx.
type UnhealthyError struct {
	URL        string
	StatusCode int
}

// Error implements the [builtin.error] interface.
func (e UnhealthyError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.URL, e.StatusCode)
}

type options struct {
	timeout time.Duration
	rt      http.RoundTripper
	log     *slog.Logger
	tp      trace.TracerProvider

	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

// Option configures a [Prober].
type Option func(*options)

// Timeout bounds each attempt.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Retries sets how many times a failed attempt is retried.
func Retries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// RetryWait bounds the exponential backoff between attempts.
func RetryWait(waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.waitMin = waitMin
		o.waitMax = waitMax
	}
}

func RoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.rt = rt
	}
}

func Logger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// TracerProvider sets where attempt spans are recorded. The global
// provider is used by default.
func TracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tp = tp
	}
}

// Prober issues GET requests and reports whether they succeeded.
type Prober struct {
	client *http.Client
	log    *slog.Logger
}

// New returns a Prober. By default it retries 3 times waiting between
// 100ms and 1s and every attempt uses a new connection.
func New(opts ...Option) *Prober {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true

	o := &options{
		timeout:    2 * time.Second,
		rt:         transport,
		log:        slog.Default(),
		maxRetries: 3,
		waitMin:    100 * time.Millisecond,
		waitMax:    time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	var otelOpts []otelhttp.Option
	if o.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tp))
	}

	rc := retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout: o.timeout,
			Transport: otelhttp.NewTransport(
				&logRoundTripper{
					base: o.rt,
					log:  o.log,
				},
				otelOpts...,
			),
		},
		Logger:       o.log,
		RetryWaitMin: o.waitMin,
		RetryWaitMax: o.waitMax,
		RetryMax:     o.maxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return &Prober{
		client: rc.StandardClient(),
		log:    o.log,
	}
}

// Probe requests url until it gets a response that should not be retried
// or the retries run out.
func (p *Prober) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UnhealthyError{URL: url, StatusCode: resp.StatusCode}
	}

	p.log.InfoContext(ctx, "probe succeeded", slogfield.String("url", url), slogfield.StatusCode(resp.StatusCode))
	return nil
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.WarnContext(
			ctx,
			"probe request failed",
			slogfield.String("url", req.URL.String()),
			slogfield.Error(err),
		)
		return nil, err
	}
	rt.log.DebugContext(
		ctx,
		"response received",
		slogfield.String("url", req.URL.String()),
		slogfield.StatusCode(resp.StatusCode),
		slogfield.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

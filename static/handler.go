// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package static

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/z5labs/staticd/http1"
	"github.com/z5labs/staticd/internal/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/z5labs/staticd/static"

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// Logger sets the logger used by the Handler.
func Logger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

// Clock overrides the time source used for the Date header.
func Clock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// Handler answers requests with content resolved from a root folder. It
// writes the complete response to the connection before returning.
type Handler struct {
	resolver *Resolver
	log      *slog.Logger
	now      func() time.Time

	responses metric.Int64Counter
	bodyBytes metric.Int64Counter
}

// NewHandler returns a Handler backed by resolver.
func NewHandler(resolver *Resolver, opts ...HandlerOption) (*Handler, error) {
	h := &Handler{
		resolver: resolver,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	meter := otel.Meter(instrumentationName)

	var err error
	h.responses, err = meter.Int64Counter(
		"staticd.responses",
		metric.WithDescription("Responses written, by status code."),
	)
	if err != nil {
		return nil, err
	}
	h.bodyBytes, err = meter.Int64Counter(
		"staticd.response.body.size",
		metric.WithDescription("Entity bytes written."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handle resolves req against the root folder and writes the response to w.
func (h *Handler) Handle(ctx context.Context, req *http1.Request, w io.Writer) error {
	h.log.DebugContext(ctx, "handle request", slogfield.String("method", req.Method), slogfield.String("uri", req.URI))

	res := h.resolver.Resolve(h.decodePath(ctx, req.URI))

	resp := http1.NewResponse(res.Status)
	// Only files carry a Content-Type; listings and the 404 page do not.
	if fe, ok := res.Entity.(*http1.FileEntity); ok {
		resp.Header.Set("Content-Type", fe.ContentType())
	}
	resp.Header.Set("Content-Encoding", "identity")
	resp.Header.Set("Date", http1.FormatDate(h.now()))
	resp.Entity = res.Entity

	h.log.InfoContext(ctx, "response", slogfield.StatusCode(resp.StatusCode), slogfield.String("reason", resp.Reason))

	status := attribute.Int("http.status_code", resp.StatusCode)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		status,
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.URI),
		attribute.Int64("http.response_content_length", res.Entity.Len()),
	)

	_, err := resp.WriteTo(w)
	if err != nil {
		span.RecordError(err)
		return err
	}

	h.responses.Add(ctx, 1, metric.WithAttributes(status))
	h.bodyBytes.Add(ctx, res.Entity.Len())
	return nil
}

// decodePath strips any query or fragment and percent-decodes the rest.
// If decoding fails the raw path is used.
func (h *Handler) decodePath(ctx context.Context, uri string) string {
	raw := uri
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}

	p, err := url.PathUnescape(raw)
	if err != nil {
		h.log.WarnContext(ctx, "error decoding the uri, using it as is", slogfield.String("uri", uri), slogfield.Error(err))
		return raw
	}
	return p
}

package corpora

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/corpora-ai/corpora-go"

// WithTracerProvider enables client spans through tp. Without this
// option the client falls back to the global provider when tracing is
// enabled in the configuration.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// sendTraced wraps dispatch in a client span carrying the method, the
// path and the final status of the call.
func (c *Client) sendTraced(req *http.Request, transport Doer) (*http.Response, error) {
	ctx, span := c.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()

	resp, err := c.dispatch(req.WithContext(ctx), transport)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	span.SetStatus(codes.Ok, "")

	return resp, nil
}

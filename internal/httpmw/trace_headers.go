package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceHeaders names the response headers that carry the active trace context.
// An empty Span skips the span header.
type TraceHeaders struct {
	Trace   string
	Span    string
	Sampled string
}

var DefaultTraceHeaders = TraceHeaders{Trace: "X-Trace-Id", Span: "X-Span-Id"}

// TraceResponseHeaders lets a client quote the trace of a 403 or 429 it got.
// It has to sit inside the otelhttp handler or there is no span to report.
func TraceResponseHeaders(th TraceHeaders) Middleware {
	if th.Trace == "" {
		th.Trace = DefaultTraceHeaders.Trace
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set(th.Trace, sc.TraceID().String())
			if th.Span != "" {
				h.Set(th.Span, sc.SpanID().String())
			}
			if th.Sampled != "" {
				if sc.IsSampled() {
					h.Set(th.Sampled, "1")
				} else {
					h.Set(th.Sampled, "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package httpmw holds the HTTP middleware for the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, OTEL tracing, trace response headers,
// metrics, request logger, then the chi router which runs the access log and
// the gate ahead of every route.
//
// Client-supplied values (query string, user agent, arbitrary headers) are
// kept out of log fields.
package httpmw

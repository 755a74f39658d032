package httpmw

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_OrderOuterToInner(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-in")
				next.ServeHTTP(w, r)
				order = append(order, name+"-out")
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("A"), nil, mark("B"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	want := "A-in B-in handler B-out A-out"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("order = %q, want %q", got, want)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{"generated when missing", "", false},
		{"propagates sane id", "abc-123_x.y", true},
		{"replaces id with spaces", "abc 123", false},
		{"replaces id with newline", "abc\nlevel=error", false},
		{"replaces overlong id", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.inbound != "" {
				r.Header.Set(DefaultRequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			respID := rec.Header().Get(DefaultRequestIDHeader)
			if respID == "" || respID != ctxID {
				t.Fatalf("response id %q, context id %q", respID, ctxID)
			}
			if (respID == tt.inbound) != tt.wantSame {
				t.Fatalf("id = %q, inbound %q, wantSame %v", respID, tt.inbound, tt.wantSame)
			}
		})
	}
}

func TestRequestID_CustomHeaderAndUnique(t *testing.T) {
	h := RequestID("X-Correlation-Id")(okHandler)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		id := rec.Header().Get("X-Correlation-Id")
		if len(id) != 32 {
			t.Fatalf("id %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-origin",
		"Cache-Control":                "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("CSP = %q", csp)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345678")))
	if readErr != nil {
		t.Fatalf("body at limit: %v", readErr)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456789")))
	if readErr == nil {
		t.Fatal("expected error reading past the limit")
	}
}

func TestTraceResponseHeaders(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sampled := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	unsampled := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	serve := func(mw Middleware, sc *trace.SpanContext) http.Header {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if sc != nil {
			r = r.WithContext(trace.ContextWithSpanContext(context.Background(), *sc))
		}
		rec := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rec, r)
		return rec.Header()
	}

	h := serve(TraceResponseHeaders(DefaultTraceHeaders), &sampled)
	if got := h.Get("X-Trace-Id"); got != traceID.String() {
		t.Fatalf("X-Trace-Id = %q", got)
	}
	if got := h.Get("X-Span-Id"); got != spanID.String() {
		t.Fatalf("X-Span-Id = %q", got)
	}

	h = serve(TraceResponseHeaders(TraceHeaders{Sampled: "X-Trace-Sampled"}), &unsampled)
	if h.Get("X-Trace-Id") == "" || h.Get("X-Span-Id") != "" || h.Get("X-Trace-Sampled") != "0" {
		t.Fatalf("custom headers = %v", h)
	}

	h = serve(TraceResponseHeaders(DefaultTraceHeaders), nil)
	if h.Get("X-Trace-Id") != "" || h.Get("X-Span-Id") != "" {
		t.Fatal("trace headers set without a span")
	}
}

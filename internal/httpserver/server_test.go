package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/log"
)

func helloRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hi"))
	})
}

func defaultOpts() *Options {
	return &Options{Logger: log.Nop(), Routes: helloRoutes}
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewHandler_SecurityHeadersAndRequestID(t *testing.T) {
	h := NewHandler(defaultOpts())
	for _, path := range []string{"/", "/missing"} {
		rec := doRequest(t, h, http.MethodGet, path)
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: security headers missing", path)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Errorf("%s: X-Request-Id missing", path)
		}
	}
}

func TestNewHandler_GateRunsBeforeRoutes(t *testing.T) {
	opts := defaultOpts()
	var seenIP string
	opts.GateMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenIP = httpmw.ClientIPFromContext(r.Context())
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
	h := NewHandler(opts)

	for _, path := range []string{"/", "/missing"} {
		rec := doRequest(t, h, http.MethodGet, path)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403 from gate", path, rec.Code)
		}
	}
	// httptest.NewRequest uses 192.0.2.1:1234
	if seenIP != "192.0.2.1" {
		t.Fatalf("gate saw client ip %q", seenIP)
	}
}

func TestNewHandler_MetricsMWApplied(t *testing.T) {
	opts := defaultOpts()
	var called bool
	opts.MetricsMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	doRequest(t, NewHandler(opts), http.MethodGet, "/")
	if !called {
		t.Fatal("metrics middleware not called")
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panicking := func(r chi.Router) {
		r.Get("/", func(http.ResponseWriter, *http.Request) { panic("boom") })
	}

	var panics int
	opts := &Options{Logger: log.Nop(), Routes: panicking, UseRecoverMW: true, OnPanic: func() { panics++ }}
	rec := doRequest(t, NewHandler(opts), http.MethodGet, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic called %d times", panics)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("security headers missing from 500")
	}

	opts.UseRecoverMW = false
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic swallowed with recover disabled")
			}
		}()
		doRequest(t, NewHandler(opts), http.MethodGet, "/")
	}()
}

func TestNewHandler_NoOptions(t *testing.T) {
	rec := doRequest(t, NewHandler(&Options{}), http.MethodGet, "/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout ||
		srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout ||
		srv.IdleTimeout != DefaultIdleTimeout ||
		srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("server = %+v", srv)
	}
}

func TestStart_ServeAndShutdown(t *testing.T) {
	port := getFreePort(t)
	opts := defaultOpts()
	opts.Port = port

	ctx := context.Background()
	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(addr); err == nil {
		t.Fatal("still accepting after shutdown")
	}
}

func TestStart_PortConflict(t *testing.T) {
	opts := defaultOpts()
	opts.Port = getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop(ctx)

	if _, err := Start(ctx, opts); err == nil {
		t.Fatal("expected error for port conflict")
	}
}

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/log"
	"github.com/keithlinneman/ipgate/internal/xerrors"
)

// NewHandler builds the public handler: middleware plus routes.
// main owns the *http.Server so it can shut down gracefully.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()

	// access log first so gate rejections are logged too
	r.Use(httpmw.AccessLog())

	// nobody has a reason to send a body to GET /
	r.Use(httpmw.MaxBody(1024))

	if opts.GateMW != nil {
		r.Use(opts.GateMW)
	}

	if opts.Routes != nil {
		opts.Routes(r)
	}

	return httpmw.Chain(r,
		// outermost, so every response carries them, 500s from Recover included
		httpmw.SecurityHeaders,
		recoverMW(opts, L),
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		// gate, logger and metrics all key on the resolved client IP
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		tracing,
		httpmw.TraceResponseHeaders(httpmw.DefaultTraceHeaders),
		opts.MetricsMW,
		// innermost, so the request logger sees trace_id
		httpmw.WithLogger(L),
	)
}

func recoverMW(opts *Options, L log.Logger) httpmw.Middleware {
	if !opts.UseRecoverMW {
		return nil
	}
	return httpmw.Recover(L, opts.OnPanic)
}

// tracing starts a server span per request. AccessLog renames it to the
// matched route once routing is done.
func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on opts.Port (DefaultPort when zero) and serves in the
// background. The returned stop shuts the server down gracefully and is safe
// to call more than once.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen %s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}

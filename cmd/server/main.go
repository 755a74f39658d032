package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/ipgate/internal/cfg"
	"github.com/keithlinneman/ipgate/internal/gate"
	"github.com/keithlinneman/ipgate/internal/health"
	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/httpserver"
	"github.com/keithlinneman/ipgate/internal/log"
	"github.com/keithlinneman/ipgate/internal/metrics"
	"github.com/keithlinneman/ipgate/internal/opshttp"
	"github.com/keithlinneman/ipgate/internal/otelx"
	"github.com/keithlinneman/ipgate/internal/prof"
	"github.com/keithlinneman/ipgate/internal/ratelimit"
	"github.com/keithlinneman/ipgate/internal/recency"
	"github.com/keithlinneman/ipgate/internal/sitehttp"
	"github.com/keithlinneman/ipgate/internal/stats"
	v "github.com/keithlinneman/ipgate/internal/version"
	"github.com/keithlinneman/ipgate/internal/xerrors"
)

// drainPeriod is how long readiness fails before the listeners close.
const drainPeriod = 5 * time.Second

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	fs := flag.NewFlagSet(v.AppName, flag.ExitOnError)
	cfg.Register(fs, &conf)
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(fs, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were validated above
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx := log.WithContext(sigCtx, L)

	// background work outlives the signal so it can flush during shutdown
	bgCtx, cancelBg := context.WithCancel(log.WithContext(context.Background(), L))
	defer cancelBg()

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"stats_redis_addr", conf.StatsRedisAddr,
		"stats_bucket_ttl", conf.StatsBucketTTL,
		"rate_limit", ratelimit.DefaultLimit,
		"rate_window", ratelimit.DefaultWindow,
		"recency_capacity", recency.MaxConnections,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		ProfileMutexFraction: 5,
		OnActive:             m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// validated above
	otlpHeaders, _ := cfg.ParseHeaders(conf.OTLPHeaders)

	// collector runs on localhost, hence insecure
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Headers:   otlpHeaders,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{Service: v.AppName})
	}

	// gate
	limiter := ratelimit.New(bgCtx)
	tracker := recency.New()
	pipeline := gate.New(limiter, tracker)
	m.RegisterGateState(tracker.Len, tracker.Capacity, limiter.Len, tracker.Evictions)

	// decision stats, memory always, redis when configured
	decisions := stats.NewMemory()
	recorder := stats.Multi{decisions}
	statsDone := make(chan struct{})
	var rdb *redis.Client
	if conf.StatsRedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: conf.StatsRedisAddr})
		sink := stats.NewRedis(rdb,
			stats.WithPrefix(conf.StatsRedisPrefix),
			stats.WithBucketTTL(conf.StatsBucketTTL),
		)
		if err := sink.Ping(ctx); err != nil {
			// stats are best effort, keep serving without them
			L.Error(ctx, err, "stats redis unreachable at startup, will keep retrying per event", "addr", conf.StatsRedisAddr)
		}
		errLog := rate.NewLimiter(rate.Every(10*time.Second), 1)
		async := stats.NewAsync(sink, 1024)
		async.OnDrop = m.IncStatsDropped
		async.OnError = func(err error) {
			m.IncStatsError()
			if errLog.Allow() {
				L.Error(bgCtx, err, "stats record failed", "addr", conf.StatsRedisAddr)
			}
		}
		recorder = append(recorder, async)
		go func() {
			defer close(statsDone)
			async.Run(bgCtx)
		}()
	} else {
		close(statsDone)
	}

	gateMW := pipeline.Middleware(
		gate.WithBlockedLogLimit(rate.NewLimiter(rate.Limit(conf.BlockedLogRate), conf.BlockedLogBurst)),
		gate.WithOnLogSuppressed(m.IncBlockedLogSuppressed),
		gate.WithOnOutcome(func(o gate.Outcome) { m.IncGateDecision(o.String()) }),
		gate.WithOnRateLimited(func(ip string, d ratelimit.Decision) {
			m.IncRateLimitOffender()
			L.Warn(ctx, "rate limit exceeded",
				"client.address", ip,
				"limit", d.Limit,
				"retry_after", d.RetryAfter,
			)
		}),
		gate.WithRecorder(recorder),
	)

	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())

	site := sitehttp.New()
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		GateMW:       gateMW,
		MetricsMW:    m.Middleware,
		Routes:       site.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener rejects public peers itself, in case the firewall is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		GateState: func() any {
			return struct {
				gate.State
				Decisions map[string]int64 `json:"decisions"`
			}{gate.Inspect(limiter, tracker), decisions.Totals()}
		},
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stopSignals()
	L.Info(bgCtx, "shutdown signal received")

	shutdownGate.Set("shutting down")
	L.Info(bgCtx, "readiness failing, draining", "drain_period", drainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
	case <-forceCh:
		L.Warn(bgCtx, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bgCtx, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bgCtx, err, "ops http server shutdown")
	}

	// no more decisions after the listeners close, flush queued stats
	cancelBg()
	select {
	case <-statsDone:
	case <-shutdownCtx.Done():
		L.Warn(context.Background(), "stats flush timed out")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			L.Error(context.Background(), xerrors.Wrap(err, "close redis"), "stats redis close")
		}
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// notifySystemd sends READY=1 when running under a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrapf(err, "systemd notify dial addr=%s", addr)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify write")
	}
	return nil
}

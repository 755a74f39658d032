package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/ipgate/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// gate
	gateDecisions         *prometheus.CounterVec
	ratelimitOffenders    prometheus.Counter
	blockedLogsSuppressed prometheus.Counter
	statsErrors           prometheus.Counter
	statsDropped          prometheus.Counter
}

// New returns a fresh registry with the go/process collectors, HTTP metrics and
// gate metrics. Labels stay low-cardinality: client IPs never become labels.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{16, 64, 256, 1024, 4096},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Gate decisions by terminal outcome",
		}, []string{"outcome"}),
		ratelimitOffenders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_ratelimit_offenders_total",
			Help: "Clients that exceeded the rate limit, counted once per client per window",
		}),
		blockedLogsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_blocked_logs_suppressed_total",
			Help: "Blocked connection log lines dropped by the log throttle",
		}),
		statsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_stats_errors_total",
			Help: "Failed writes to the decision stats sink",
		}),
		statsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_stats_dropped_total",
			Help: "Decision events dropped because the stats queue was full",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.gateDecisions,
		m.ratelimitOffenders,
		m.blockedLogsSuppressed,
		m.statsErrors,
		m.statsDropped,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry is exposed for tests and for collectors owned by other packages.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// RegisterGateState exports live gate sizes and the recency eviction count,
// all read at scrape time. Call once per ServerMetrics.
func (m *ServerMetrics) RegisterGateState(recencyLen, recencyCap, trackedClients func() int, recencyEvictions func() uint64) {
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gate_recency_evictions_total",
			Help: "Entries dropped from the front of the recency log",
		}, func() float64 { return float64(recencyEvictions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gate_recency_log_entries",
			Help: "Current number of entries in the recency log",
		}, func() float64 { return float64(recencyLen()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gate_recency_log_capacity",
			Help: "Maximum number of entries in the recency log",
		}, func() float64 { return float64(recencyCap()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gate_ratelimit_tracked_clients",
			Help: "Clients with rate limiter state",
		}, func() float64 { return float64(trackedClients()) }),
	)
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncGateDecision counts one terminal gate outcome ("delegated", "rejected_rate", "rejected_recency").
func (m *ServerMetrics) IncGateDecision(outcome string) {
	m.gateDecisions.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncRateLimitOffender() {
	m.ratelimitOffenders.Inc()
}

func (m *ServerMetrics) IncBlockedLogSuppressed() {
	m.blockedLogsSuppressed.Inc()
}

func (m *ServerMetrics) IncStatsError() {
	m.statsErrors.Inc()
}

func (m *ServerMetrics) IncStatsDropped() {
	m.statsDropped.Inc()
}

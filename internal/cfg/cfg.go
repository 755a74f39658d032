package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/ipgate/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading the environment.
const EnvPrefix = "IPGATE_"

// App holds runtime settings. The gate thresholds (rate window, rate limit,
// recency capacity) are compiled in and deliberately absent here.
type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPHeaders     string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	StatsRedisAddr   string
	StatsRedisPrefix string
	StatsBucketTTL   time.Duration

	BlockedLogRate  float64
	BlockedLogBurst int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server (0 ignores X-Forwarded-For)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.StringVar(&c.OTLPHeaders, "otlp-headers", "", "extra OTLP export headers as k=v,k=v")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.StatsRedisAddr, "stats-redis-addr", "", "redis host:port for gate decision counters (empty keeps them in memory)")
	fs.StringVar(&c.StatsRedisPrefix, "stats-redis-prefix", "ipgate:stats", "key prefix for gate decision counters in redis")
	fs.DurationVar(&c.StatsBucketTTL, "stats-bucket-ttl", 24*time.Hour, "how long per-minute decision buckets live in redis")
	fs.Float64Var(&c.BlockedLogRate, "blocked-log-rate", 5, "blocked connection log lines per second, excess is counted but not logged")
	fs.IntVar(&c.BlockedLogBurst, "blocked-log-burst", 20, "blocked connection log burst")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// validHostPort accepts host:port with a non-empty host and a numeric port, no scheme.
func validHostPort(s string) error {
	if strings.Contains(s, "://") {
		return errors.New("scheme not allowed")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if p, err := strconv.Atoi(port); err != nil || !validPort(p) {
		return fmt.Errorf("port %q must be 1..65535", port)
	}
	return nil
}

// ParseHeaders splits "k=v,k=v" into a map. Empty input yields nil.
func ParseHeaders(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("header %q must be key=value", strings.TrimSpace(pair))
		}
		out[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// Validate checks ranges and formats, returning every problem joined, or nil.
func Validate(c App) error {
	var errs []error

	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if !validPort(c.AdminPort) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := validHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if _, err := ParseHeaders(c.OTLPHeaders); err != nil {
		errs = append(errs, fmt.Errorf("invalid OTLP_HEADERS: %w", err))
	}

	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.StatsRedisAddr != "" {
		if err := validHostPort(c.StatsRedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("STATS_REDIS_ADDR must be host:port (got %q): %v", c.StatsRedisAddr, err))
		}
		if strings.Trim(c.StatsRedisPrefix, ":") == "" {
			errs = append(errs, fmt.Errorf("STATS_REDIS_PREFIX is required when STATS_REDIS_ADDR is set"))
		}
		if c.StatsBucketTTL <= 0 {
			errs = append(errs, fmt.Errorf("STATS_BUCKET_TTL must be > 0 (got %v)", c.StatsBucketTTL))
		}
	}

	if c.BlockedLogRate <= 0 {
		errs = append(errs, fmt.Errorf("BLOCKED_LOG_RATE must be > 0 (got %v)", c.BlockedLogRate))
	}
	if c.BlockedLogBurst < 1 {
		errs = append(errs, fmt.Errorf("BLOCKED_LOG_BURST must be >= 1 (got %d)", c.BlockedLogBurst))
	}

	return errors.Join(errs...)
}

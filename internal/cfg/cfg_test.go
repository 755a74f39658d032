package cfg

import (
	"flag"
	"maps"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig parses args on a fresh FlagSet, isolated from flag.CommandLine.
// The pointer is returned so later fs.Set calls from FillFromEnv stay visible.
func newTestConfig(t *testing.T, args []string) (*App, *flag.FlagSet) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c, fs
}

func TestRegister_Defaults(t *testing.T) {
	c, _ := newTestConfig(t, nil)

	if c.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort = %d, want 9000", c.AdminPort)
	}
	if c.TrustedHops != 0 {
		t.Errorf("TrustedHops = %d, want 0", c.TrustedHops)
	}
	if !c.LogJSON || c.LogLevel != "info" {
		t.Errorf("log defaults = %v/%q", c.LogJSON, c.LogLevel)
	}
	if c.EnableTracing || c.EnablePyroscope {
		t.Error("tracing and pyroscope should default off")
	}
	if c.StatsRedisAddr != "" {
		t.Errorf("StatsRedisAddr = %q, want empty", c.StatsRedisAddr)
	}
	if c.StatsBucketTTL != 24*time.Hour {
		t.Errorf("StatsBucketTTL = %v, want 24h", c.StatsBucketTTL)
	}
}

func TestRegister_DefaultsValidate(t *testing.T) {
	c, _ := newTestConfig(t, nil)
	if err := Validate(*c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFillFromEnv_EnvAppliesWhenNoFlag(t *testing.T) {
	t.Setenv("IPGATE_HTTP_PORT", "3100")
	t.Setenv("IPGATE_TRUSTED_HOPS", "1")

	c, fs := newTestConfig(t, nil)
	FillFromEnv(fs, EnvPrefix, nil)

	if c.HTTPPort != 3100 {
		t.Errorf("HTTPPort = %d, want 3100", c.HTTPPort)
	}
	if c.TrustedHops != 1 {
		t.Errorf("TrustedHops = %d, want 1", c.TrustedHops)
	}
}

func TestFillFromEnv_FlagBeatsEnv(t *testing.T) {
	t.Setenv("IPGATE_HTTP_PORT", "3100")

	var msgs []string
	c, fs := newTestConfig(t, []string{"-http-port", "3200"})
	FillFromEnv(fs, EnvPrefix, func(f string, args ...any) { msgs = append(msgs, f) })

	if c.HTTPPort != 3200 {
		t.Errorf("HTTPPort = %d, want 3200", c.HTTPPort)
	}
	if len(msgs) != 1 {
		t.Errorf("expected one override message, got %d", len(msgs))
	}
}

func TestFillFromEnv_InvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("IPGATE_HTTP_PORT", "not-a-number")

	var msgs []string
	c, fs := newTestConfig(t, nil)
	FillFromEnv(fs, EnvPrefix, func(f string, args ...any) { msgs = append(msgs, f) })

	if c.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000", c.HTTPPort)
	}
	if len(msgs) != 1 {
		t.Errorf("expected one invalid-env message, got %d", len(msgs))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"port too high", []string{"-http-port", "70000"}, "HTTP_PORT"},
		{"admin port zero", []string{"-admin-port", "0"}, "ADMIN_PORT"},
		{"same ports", []string{"-http-port", "9000"}, "must differ"},
		{"negative hops", []string{"-trusted-hops", "-1"}, "TRUSTED_HOPS"},
		{"bad log level", []string{"-log-level", "loud"}, "LOG_LEVEL"},
		{"bad stacktrace level", []string{"-stacktrace-level", "x"}, "STACKTRACE_LEVEL"},
		{"sample above one", []string{"-trace-sample", "1.5"}, "TRACE_SAMPLE"},
		{"tracing without endpoint", []string{"-enable-tracing"}, "OTLP_ENDPOINT required"},
		{"tracing with scheme", []string{"-enable-tracing", "-otlp-endpoint", "http://collector"}, "host:port"},
		{"tracing with scheme and port", []string{"-enable-tracing", "-otlp-endpoint", "http://collector:4317"}, "scheme not allowed"},
		{"tracing named port", []string{"-enable-tracing", "-otlp-endpoint", "localhost:abc"}, "host:port"},
		{"tracing without host", []string{"-enable-tracing", "-otlp-endpoint", ":4317"}, "missing host"},
		{"tracing port out of range", []string{"-enable-tracing", "-otlp-endpoint", "localhost:0"}, "1..65535"},
		{"bad otlp headers", []string{"-otlp-headers", "x-tenant"}, "OTLP_HEADERS"},
		{"redis scheme", []string{"-stats-redis-addr", "redis://redis:6379"}, "STATS_REDIS_ADDR"},
		{"zero bucket ttl", []string{"-stats-redis-addr", "redis:6379", "-stats-bucket-ttl", "0s"}, "STATS_BUCKET_TTL"},
		{"pyroscope without server", []string{"-enable-pyroscope", "-pyro-tenant", "t"}, "PYRO_SERVER"},
		{"pyroscope without tenant", []string{"-enable-pyroscope", "-pyro-server", "http://pyro:4040"}, "PYRO_TENANT"},
		{"redis without port", []string{"-stats-redis-addr", "redis"}, "STATS_REDIS_ADDR"},
		{"redis empty prefix", []string{"-stats-redis-addr", "redis:6379", "-stats-redis-prefix", ":"}, "STATS_REDIS_PREFIX"},
		{"zero log rate", []string{"-blocked-log-rate", "0"}, "BLOCKED_LOG_RATE"},
		{"zero log burst", []string{"-blocked-log-burst", "0"}, "BLOCKED_LOG_BURST"},
		{"error links out of range", []string{"-max-error-links", "100"}, "MAX_ERROR_LINKS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConfig(t, tt.args)
			wantErrContains(t, Validate(*c), tt.want)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	c, _ := newTestConfig(t, []string{"-http-port", "0", "-log-level", "nope"})
	err := Validate(*c)
	wantErrContains(t, err, "HTTP_PORT")
	wantErrContains(t, err, "LOG_LEVEL")
}

func TestValidate_FullFeatureSet(t *testing.T) {
	c, _ := newTestConfig(t, []string{
		"-enable-tracing", "-otlp-endpoint", "localhost:4317", "-trace-sample", "0.1",
		"-enable-pyroscope", "-pyro-server", "http://pyro:4040", "-pyro-tenant", "ops",
		"-otlp-headers", "x-scope-orgid=ops, authorization=Bearer abc",
		"-stats-redis-addr", "localhost:6379", "-stats-bucket-ttl", "2h",
		"-trusted-hops", "2",
	})
	if err := Validate(*c); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestFillFromEnv_DurationAndHeaders(t *testing.T) {
	t.Setenv("IPGATE_STATS_BUCKET_TTL", "90m")
	t.Setenv("IPGATE_OTLP_HEADERS", "x-tenant=t1")

	c, fs := newTestConfig(t, nil)
	FillFromEnv(fs, EnvPrefix, nil)

	if c.StatsBucketTTL != 90*time.Minute {
		t.Errorf("StatsBucketTTL = %v, want 90m", c.StatsBucketTTL)
	}
	if c.OTLPHeaders != "x-tenant=t1" {
		t.Errorf("OTLPHeaders = %q", c.OTLPHeaders)
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    map[string]string
		wantErr bool
	}{
		{"empty", "  ", nil, false},
		{"single", "x-tenant=t1", map[string]string{"x-tenant": "t1"}, false},
		{"trimmed and lowered", " X-Tenant = t1 , authorization=Bearer a=b", map[string]string{"x-tenant": "t1", "authorization": "Bearer a=b"}, false},
		{"empty value", "x-empty=", map[string]string{"x-empty": ""}, false},
		{"missing equals", "x-tenant", nil, true},
		{"missing key", "=v", nil, true},
		{"trailing comma", "a=b,", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !maps.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

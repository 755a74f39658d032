package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/ipgate/internal/xerrors"
)

// Redis keeps decision counters in hashes:
//
//	<prefix>:total                 outcome -> count, never expires
//	<prefix>:minute:<yyyymmddhhmm> outcome -> count, expires after ttl
//	<prefix>:route                 "<method> <path>:<outcome>" -> count
//
// Counters are never read back by the service.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

// WithBucketTTL sets how long per-minute buckets live
func WithBucketTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func NewRedis(rdb redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "ipgate:stats",
		ttl:    24 * time.Hour,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MinuteKey is the per-minute bucket key for t.
func (r *Redis) MinuteKey(t time.Time) string {
	return r.prefix + ":minute:" + t.UTC().Format("200601021504")
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", ev.Outcome, 1)

	bucket := r.MinuteKey(at)
	pipe.HIncrBy(ctx, bucket, ev.Outcome, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucket, r.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Route); route != "" {
		pipe.HIncrBy(ctx, r.prefix+":route", route+":"+ev.Outcome, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrapf(err, "record gate stats prefix=%s", r.prefix)
	}
	return nil
}

// Ping checks connectivity, used at startup and by readiness.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return xerrors.Wrap(err, "redis ping")
	}
	return nil
}

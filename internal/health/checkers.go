package health

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
)

func failed(err error) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
}

// RedisChecker pings the event stream store. Streaming falls back to the
// in-process ring, so it is not critical.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(c *redis.Client) *RedisChecker { return &RedisChecker{client: c} }

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return 2 * time.Second }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return failed(err)
	}
	return CheckResult{Status: StatusHealthy, Message: "pong"}
}

// DatabaseChecker pings the SQL database holding reports and cost ledgers.
type DatabaseChecker struct {
	db *sqlx.DB
}

func NewDatabaseChecker(db *sqlx.DB) *DatabaseChecker { return &DatabaseChecker{db: db} }

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) IsCritical() bool       { return true }
func (d *DatabaseChecker) Timeout() time.Duration { return 3 * time.Second }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	if err := d.db.PingContext(ctx); err != nil {
		return failed(err)
	}
	return CheckResult{Status: StatusHealthy}
}

// TemporalChecker asks the frontend service for its health.
type TemporalChecker struct {
	client client.Client
}

func NewTemporalChecker(c client.Client) *TemporalChecker { return &TemporalChecker{client: c} }

func (t *TemporalChecker) Name() string           { return "temporal" }
func (t *TemporalChecker) IsCritical() bool       { return true }
func (t *TemporalChecker) Timeout() time.Duration { return 5 * time.Second }

func (t *TemporalChecker) Check(ctx context.Context) CheckResult {
	if _, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return failed(err)
	}
	return CheckResult{Status: StatusHealthy}
}

// FuncChecker adapts a function.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (f *FuncChecker) Name() string                          { return f.name }
func (f *FuncChecker) IsCritical() bool                      { return f.critical }
func (f *FuncChecker) Timeout() time.Duration                { return f.timeout }
func (f *FuncChecker) Check(ctx context.Context) CheckResult { return f.fn(ctx) }

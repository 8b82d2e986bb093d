package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"docverify/internal/shared/telemetry"
)

// Options controls the pool behind one *sql.DB.
type Options struct {
	// ApplicationName tags connections in pg_stat_activity.
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// openConnector turns a parsed config into a pool. Tests swap it out.
var openConnector = func(cfg *pgx.ConnConfig) *sql.DB {
	return stdlib.OpenDB(*cfg)
}

// IsLambdaRuntime reports whether the process runs inside AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// ServerOptions sizes the pool for the API and the queue worker. Every OCR job
// holds at most two connections at once (result insert, proposal transition),
// so the pool grows with the job concurrency.
func ServerOptions(appName string, jobConcurrency int) Options {
	return Options{
		ApplicationName: appName,
		MaxOpenConns:    max(10, 2*jobConcurrency+2),
		MaxIdleConns:    max(5, jobConcurrency),
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// LambdaOptions keeps the pool small: one invocation at a time per instance.
func LambdaOptions(appName string) Options {
	return Options{
		ApplicationName: appName,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// MigrateOptions is a single connection; goose runs statements serially.
func MigrateOptions() Options {
	return Options{
		ApplicationName: "docverify-migrate",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     10 * time.Second,
	}
}

// WithEnv applies DB_* overrides on top of o. Malformed values are logged and ignored.
func (o Options) WithEnv() Options {
	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS": &o.MaxOpenConns,
		"DB_MAX_IDLE_CONNS": &o.MaxIdleConns,
	}
	for key, dst := range ints {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				telemetry.Warn("db.env.invalid", map[string]any{"key": key, "error": err.Error()})
				continue
			}
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME":  &o.ConnMaxLifetime,
		"DB_CONN_MAX_IDLE_TIME": &o.ConnMaxIdleTime,
		"DB_PING_TIMEOUT":       &o.PingTimeout,
	}
	for key, dst := range durations {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				telemetry.Warn("db.env.invalid", map[string]any{"key": key, "error": err.Error()})
				continue
			}
			*dst = v
		}
	}
	if name := strings.TrimSpace(os.Getenv("DB_APPLICATION_NAME")); name != "" {
		o.ApplicationName = name
	}
	return o
}

// Connect parses databaseURL with pgx, opens a pool and pings it.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if opts.ApplicationName != "" {
		cfg.RuntimeParams["application_name"] = opts.ApplicationName
	}

	db := openConnector(cfg)
	applyOptions(db, opts)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s/%s: %w", cfg.Host, cfg.Database, err)
	}

	stats := db.Stats()
	telemetry.Info("db.init", map[string]any{
		"host":             cfg.Host,
		"database":         cfg.Database,
		"application_name": opts.ApplicationName,
		"max_open":         stats.MaxOpenConnections,
	})
	return db, nil
}

// sharedPool keeps one pool per Lambda execution environment. A failed
// connect leaves it empty so the next invocation retries.
type sharedPool struct {
	mu sync.Mutex
	db *sql.DB
}

var lambdaPool sharedPool

func (p *sharedPool) get(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		telemetry.Debug("db.shared.reuse", nil)
		return p.db, nil
	}
	db, err := Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	p.db = db
	return db, nil
}

// Shared returns the pool kept across warm Lambda invocations.
func Shared(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	return lambdaPool.get(ctx, databaseURL, opts)
}

func applyOptions(db *sql.DB, opts Options) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 || opts.MaxIdleConns > opts.MaxOpenConns {
		opts.MaxIdleConns = opts.MaxOpenConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

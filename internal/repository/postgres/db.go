package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const pingTimeout = 5 * time.Second

type Config struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	MigrateOnStart    bool          `mapstructure:"migrate_on_start"`
}

// DB is the shared account database handle. Every repository derives its
// per-statement deadline from QueryTimeout.
type DB struct {
	Pool         *pgxpool.Pool
	QueryTimeout time.Duration
}

type DBOption func(*dbOptions)

type dbOptions struct {
	tp trace.TracerProvider
}

// WithTracerProvider sets where query spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) DBOption {
	return func(o *dbOptions) { o.tp = tp }
}

func NewDB(ctx context.Context, cfg Config, opts ...DBOption) (*DB, error) {
	o := dbOptions{tp: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pcfg.ConnConfig.Tracer = newQueryTracer(o.tp)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping accounts db: %w", err)
	}
	return &DB{Pool: pool, QueryTimeout: cfg.QueryTimeout}, nil
}

// poolConfig parses the DSN and overlays the non-zero tuning knobs.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	setIf(&pcfg.MaxConns, cfg.MaxConns)
	setIf(&pcfg.MinConns, cfg.MinConns)
	setIf(&pcfg.MaxConnLifetime, cfg.MaxConnLifetime)
	setIf(&pcfg.MaxConnIdleTime, cfg.MaxConnIdleTime)
	setIf(&pcfg.HealthCheckPeriod, cfg.HealthCheckPeriod)
	return pcfg, nil
}

func setIf[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func (db *DB) Close() { db.Pool.Close() }

func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.QueryTimeout)
}

// queryTracer opens one client span per statement. Arguments are never
// attached: they carry emails and password digests.
type queryTracer struct {
	tracer trace.Tracer
}

func newQueryTracer(tp trace.TracerProvider) *queryTracer {
	return &queryTracer{tracer: tp.Tracer("authd/postgres")}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, _ = t.tracer.Start(ctx, "postgres.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBStatement(data.SQL),
		),
	)
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	defer span.End()
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
}

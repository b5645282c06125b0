// Package outbox drains the transactional outbox table and hands each
// message to the handler registered for its kind.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/authd/internal/domain/outbox"
	"github.com/NordCoder/authd/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RunnerConfig struct {
	Workers       int
	BatchSize     int
	WaitTime      time.Duration
	InProgressTTL time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.InProgressTTL <= 0 {
		c.InProgressTTL = time.Minute
	}
	return c
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      RunnerConfig

	mPicked    prometheus.Counter
	mOk        prometheus.Counter
	mErr       prometheus.Counter
	mTickDur   prometheus.Histogram
	mBatchSize prometheus.Gauge
}

func NewOutboxRunner(
	log *zap.Logger,
	reg prometheus.Registerer,
	repo outbox.Repository,
	dispatch outbox.GlobalHandler,
	cfg RunnerConfig,
) *Runner {
	r := &Runner{
		log: log.With(zap.String("component", "outbox.runner")), repo: repo, dispatch: dispatch,
		cfg: cfg.withDefaults(),
		mPicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authd", Name: "outbox_picked_total", Help: "Messages picked into processing.",
		}),
		mOk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authd", Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
		}),
		mErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authd", Name: "outbox_processed_err_total", Help: "Handler errors.",
		}),
		mTickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "authd", Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
		mBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authd", Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
		}),
	}
	reg.MustRegister(r.mPicked, r.mOk, r.mErr, r.mTickDur, r.mBatchSize)
	return r
}

// Run starts the workers and blocks until ctx is done and every worker has
// finished its current tick.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (r *Runner) worker(ctx context.Context, id int) {
	log := r.log.With(zap.Int("worker", id))
	log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.tick(ctx, log)
		}
	}
}

func (r *Runner) tick(ctx context.Context, log *zap.Logger) {
	t0 := time.Now()
	defer func() { r.mTickDur.Observe(time.Since(t0).Seconds()) }()

	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, log).Error("outbox pick error", zap.Error(err))
		return
	}
	r.mPicked.Add(float64(len(messages)))
	r.mBatchSize.Set(float64(len(messages)))

	okKeys := make([]string, 0, len(messages))
	for _, m := range messages {
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})
		msgCtx, msgSpan := tr.Start(parent, "outbox.dispatch",
			trace.WithAttributes(
				attribute.String("outbox.key", m.IdempotencyKey),
				attribute.String("outbox.kind", m.Kind.String()),
			),
		)

		if err := r.handle(msgCtx, m); err != nil {
			msgSpan.RecordError(err)
			r.mErr.Inc()
			obs.WithTrace(msgCtx, log).Error("outbox handler error",
				zap.String("key", m.IdempotencyKey), zap.Stringer("kind", m.Kind), zap.Error(err))
			msgSpan.End()
			continue
		}
		msgSpan.End()
		okKeys = append(okKeys, m.IdempotencyKey)
		r.mOk.Inc()
	}

	// Marking runs on a context detached from cancellation so that a batch
	// already published during shutdown is not re-sent.
	if err := r.repo.MarkSuccess(context.WithoutCancel(ctxSpan), okKeys); err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, log).Error("mark success error", zap.Error(err))
	}
}

func (r *Runner) handle(ctx context.Context, m outbox.Message) error {
	h, err := r.dispatch(m.Kind)
	if err != nil {
		return err
	}
	return h(ctx, m.Data)
}

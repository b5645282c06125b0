// Package retry runs an operation until it succeeds, the policy gives up or
// the context ends.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base per attempt, caps at Max and spreads the result by
// +/- Jitter (a fraction of the delay).
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(max(attempt, 0)))
	if b.Max > 0 {
		d = math.Min(d, float64(b.Max))
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

// Constant waits the same duration between attempts.
type Constant time.Duration

func (c Constant) Next(int) time.Duration { return time.Duration(c) }

// Outcome labels of authd_retry_operations_total.
const (
	OutcomeOK        = "ok"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
	OutcomeCanceled  = "canceled"
)

// Metrics is shared by every policy that points at it. A nil *Metrics
// records nothing.
type Metrics struct {
	attempts   *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "retry_attempts_total",
			Help:      "Calls made inside retry.Do, first attempt included.",
		}, []string{"name"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "retry_operations_total",
			Help:      "Finished retry.Do calls by outcome.",
		}, []string{"name", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authd",
			Name:      "retry_duration_seconds",
			Help:      "Wall time of retry.Do including backoff.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.operations, m.duration)
	}
	return m
}

func (m *Metrics) attempt(name string) {
	if m != nil {
		m.attempts.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) finish(name, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(took.Seconds())
}

type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
	Metrics   *Metrics
}

func (p Policy) name() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Next(attempt)
}

// Do calls fn at most p.Attempts times (at least once). It returns nil on the
// first success, the last error once the policy gives up, or ctx.Err() when
// the context ends while waiting.
func Do(ctx context.Context, fn func() error, p Policy) error {
	name := p.name()
	start := time.Now()
	span := trace.SpanFromContext(ctx)
	attempts := max(p.Attempts, 1)

	for i := 0; ; i++ {
		err := fn()
		p.Metrics.attempt(name)
		if err == nil {
			p.Metrics.finish(name, OutcomeOK, time.Since(start))
			return nil
		}

		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		if span.IsRecording() {
			span.AddEvent("retry.attempt", trace.WithAttributes(
				attribute.String("retry.name", name),
				attribute.Int("retry.attempt", i+1),
				attribute.String("retry.error", err.Error()),
			))
		}

		last := i == attempts-1
		if last || !p.retryable(err) {
			outcome := OutcomeAborted
			if last {
				outcome = OutcomeExhausted
			}
			p.Metrics.finish(name, outcome, time.Since(start))
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}

		if werr := sleep(ctx, p.delay(i)); werr != nil {
			p.Metrics.finish(name, OutcomeCanceled, time.Since(start))
			return errors.Join(werr, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

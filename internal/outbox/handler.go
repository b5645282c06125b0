package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/authd/internal/domain/outbox"
	"github.com/NordCoder/authd/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AccountPublisher interface {
	PublishAccountRegistered(ctx context.Context, p outbox.AccountRegisteredPayload) error
}

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "authd",
		Name:      "outbox_handler_latency_seconds",
		Help:      "Latency of outbox handlers including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authd",
		Name:      "outbox_handler_errors_total",
		Help:      "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func instrument(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle "+kind.String(),
			trace.WithAttributes(attribute.String("outbox.kind", kind.String())))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
}

// ErrMalformedPayload marks messages whose data does not decode; they are
// never retried.
var ErrMalformedPayload = errors.New("malformed outbox payload")

// MakeGlobalOutboxHandler routes each message kind to its publisher.
func MakeGlobalOutboxHandler(pub AccountPublisher, pol retry.Policy) outbox.GlobalHandler {
	retryable := pol.Retryable
	pol.Retryable = func(err error) bool {
		if errors.Is(err, ErrMalformedPayload) {
			return false
		}
		return retryable == nil || retryable(err)
	}

	accountRegistered := instrument(outbox.KindAccountRegistered, func(ctx context.Context, data []byte) error {
		var p outbox.AccountRegisteredPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return pub.PublishAccountRegistered(ctx, p)
	}, pol)

	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindAccountRegistered:
			return accountRegistered, nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w      messageWriter
	topic  string
	log    *zap.Logger
	tracer trace.Tracer
}

type ProducerOption func(*Producer)

func WithLogger(l *zap.Logger) ProducerOption {
	return func(p *Producer) {
		if l != nil {
			p.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.topic))
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) ProducerOption {
	return func(p *Producer) {
		if tp != nil {
			p.tracer = tp.Tracer("kafka.producer")
		}
	}
}

func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, topic, opts...)
}

func newProducer(w messageWriter, topic string, opts ...ProducerOption) *Producer {
	p := &Producer{
		w:      w,
		topic:  topic,
		log:    zap.L().With(zap.String("component", "kafka.producer"), zap.String("topic", topic)),
		tracer: otel.Tracer("kafka.producer"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PublishJSON writes v as a JSON message under key. The current trace
// context travels in the message headers.
func (p *Producer) PublishJSON(ctx context.Context, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "kafka.produce "+p.topic, trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	hdrs := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, hdrs)

	if err := p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Headers: hdrs.ToKafka()}); err != nil {
		span.RecordError(err)
		p.log.Error("kafka write failed", zap.Error(err))
		return fmt.Errorf("kafka write: %w", err)
	}
	p.log.Debug("message published", zap.Int("key_len", len(key)), zap.Int("value_len", len(value)))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

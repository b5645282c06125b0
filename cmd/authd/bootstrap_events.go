package main

import (
	"context"
	"time"

	config "github.com/NordCoder/authd/internal/config/authd"
	"github.com/NordCoder/authd/internal/obs/retry"
	"github.com/NordCoder/authd/internal/outbox"
	kafkax "github.com/NordCoder/authd/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// startEvents runs the outbox relay until ctx is done. The returned channel
// is closed once every worker has stopped and the producer is closed.
func startEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger, store *storeHandle) <-chan struct{} {
	done := make(chan struct{})
	if !cfg.Events.Enable || store.outbox == nil {
		close(done)
		return done
	}

	if err := kafkax.EnsureTopic(ctx, cfg.Events.Brokers, kafkax.TopicSpec{
		Name:    cfg.Events.Topic,
		MaxWait: 5 * time.Second,
	}, logger); err != nil {
		logger.Warn("ensure topic failed; relying on auto-creation", zap.Error(err))
	}

	producer := kafkax.NewProducer(cfg.Events.Brokers, cfg.Events.Topic, kafkax.WithLogger(logger))
	pol := retry.PublishPolicy("account_events", logger)
	pol.Metrics = retry.NewMetrics(prometheus.DefaultRegisterer)
	dispatch := outbox.MakeGlobalOutboxHandler(kafkax.NewAccountEvents(producer), pol)
	runner := outbox.NewOutboxRunner(logger, prometheus.DefaultRegisterer, store.outbox, dispatch, cfg.Events.AsRunnerConfig())

	go func() {
		defer close(done)
		runner.Run(ctx)
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close", zap.Error(err))
		}
	}()
	return done
}

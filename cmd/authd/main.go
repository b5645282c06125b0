package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	authx "github.com/NordCoder/authd/internal/auth"
	config "github.com/NordCoder/authd/internal/config/authd"
	"github.com/NordCoder/authd/internal/obs"
	"github.com/NordCoder/authd/internal/services/authd/auth"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHD_CONFIG"), "path to YAML config")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting authd",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("store", cfg.Store.Driver),
	)

	otelShutdown, err := initOTel(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}

	store, err := initStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("store init", zap.Error(err))
	}
	defer store.close()

	codec, err := authx.NewTokenCodec(authx.Keys{
		Access:  []byte(cfg.Auth.AccessSecret),
		Refresh: []byte(cfg.Auth.RefreshSecret),
	})
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}

	uc := auth.NewUseCase(
		store.accounts,
		authx.NewPasswordHasher(cfg.Auth.BcryptCost),
		codec,
		auth.Config{AccessTTL: cfg.Auth.AccessTTL, RefreshTTL: cfg.Auth.RefreshTTL},
		auth.WithLogger(logger),
		auth.WithMetrics(obs.NewAuthMetrics(prometheus.DefaultRegisterer)),
	)

	grpcServer, healthSrv, grpcLn, err := buildGRPCServer(cfg)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	go watchHealth(rootCtx, healthSrv, store.ping, logger)

	grpcErrCh := make(chan error, 1)
	go func() { grpcErrCh <- serveGRPC(grpcServer, grpcLn, cfg, logger) }()

	httpSrv, err := buildHTTPServer(cfg, logger, uc, store)
	if err != nil {
		logger.Fatal("build http", zap.Error(err))
	}

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- serveHTTP(httpSrv, cfg, logger) }()

	eventsCtx, stopEvents := context.WithCancel(rootCtx)
	eventsDone := startEvents(eventsCtx, cfg, logger, store)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal", zap.String("reason", "context canceled"))
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	stopEvents()
	select {
	case <-eventsDone:
	case <-shCtx.Done():
		logger.Warn("outbox workers did not stop in time")
	}

	if err := otelShutdown(shCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("bye")
}

package main

import (
	"net/http"
	"time"

	config "github.com/NordCoder/authd/internal/config/authd"
	"github.com/NordCoder/authd/internal/obs"
	"github.com/NordCoder/authd/internal/services/authd/auth"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, uc *auth.Usecase, store *storeHandle) (*http.Server, error) {
	mux := runtime.NewServeMux()
	authSrv := auth.NewServer(uc, auth.Opts{
		Logger:      logger,
		RoutePrefix: cfg.Server.RoutePrefix,
		Metrics:     obs.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	if err := authSrv.Mount(mux); err != nil {
		return nil, err
	}

	root := http.NewServeMux()
	root.Handle("/", mux)
	root.Handle("/metrics", obs.MetricsHandler())
	root.Handle("/healthz", obs.HealthHandler(store.ping))

	handler := otelhttp.NewHandler(cors(corsConfig{AllowedOrigins: cfg.Server.CORSOrigins})(root), "authd.http")

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}, nil
}

func serveHTTP(srv *http.Server, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr), zap.String("prefix", cfg.Server.RoutePrefix))
	return srv.ListenAndServe()
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rokeefe/inkwire/internal/auth"
	"github.com/rokeefe/inkwire/internal/config"
	"github.com/rokeefe/inkwire/internal/db"
	"github.com/rokeefe/inkwire/internal/health"
	"github.com/rokeefe/inkwire/internal/idempotency"
	"github.com/rokeefe/inkwire/internal/issues"
	"github.com/rokeefe/inkwire/internal/logging"
	"github.com/rokeefe/inkwire/internal/metrics"
	"github.com/rokeefe/inkwire/internal/outbox"
	"github.com/rokeefe/inkwire/internal/publish"
	"github.com/rokeefe/inkwire/internal/subscribers"
	"github.com/rokeefe/inkwire/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(cfg.AppName + "-api")

	shutdown, err := tracing.InitTracing(ctx, cfg.AppName+"-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("init tracing failed")
	}
	defer shutdown()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DSN(), cfg.MigrationsDir); err != nil {
			logger.Plain().WithError(err).Fatal("migrations failed")
		}
		logger.Plain().WithField("dir", cfg.MigrationsDir).Info("migrations applied")
	}

	pool, err := db.Connect(ctx, cfg.DSN(), 16)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	validator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("load admin JWT key failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	svc := publish.NewService(
		pool,
		idempotency.NewStore(),
		issues.NewStore(pool),
		subscribers.NewStore(pool),
		outbox.NewRepo(pool),
		logger,
	)
	handler := publish.NewHandler(svc, pool, outbox.NewRepo(pool), idempotency.NewStore(), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", health.HTTPHandler(pool))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/admin", func(r chi.Router) {
		r.Use(validator.Middleware)
		r.Group(handler.Routes)
	})

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: r}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("api stopped")
}

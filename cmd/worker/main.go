package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rokeefe/inkwire/internal/config"
	"github.com/rokeefe/inkwire/internal/db"
	"github.com/rokeefe/inkwire/internal/delivery"
	"github.com/rokeefe/inkwire/internal/email"
	"github.com/rokeefe/inkwire/internal/health"
	"github.com/rokeefe/inkwire/internal/issues"
	"github.com/rokeefe/inkwire/internal/logging"
	"github.com/rokeefe/inkwire/internal/metrics"
	"github.com/rokeefe/inkwire/internal/outbox"
	"github.com/rokeefe/inkwire/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New(cfg.AppName + "-worker")

	shutdown, err := tracing.InitTracing(ctx, cfg.AppName+"-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("init tracing failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN(), int32(cfg.Worker.Count)+4)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	var dlqProducer *nsq.Producer
	if cfg.Worker.PublishDLQ {
		dlqProducer, err = nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
	}

	repo := outbox.NewRepo(pool)
	issueStore := issues.NewStore(pool)
	sender := email.NewClient(cfg.Mail.BaseURL, cfg.Mail.Sender, cfg.Mail.ServerToken, cfg.Mail.SendTimeout)
	opts := delivery.Options{
		MaxAttempts:  cfg.Worker.MaxAttempts,
		Backoff:      cfg.Worker.BackoffSchedule,
		JitterPct:    cfg.Worker.JitterPercent,
		IdleInterval: cfg.Worker.IdleInterval,
		SendTimeout:  cfg.Mail.SendTimeout,
	}

	workers := delivery.NewPool(cfg.Worker.Count, func(i int) *delivery.Worker {
		w := delivery.NewWorker(delivery.RepoSource{Repo: repo}, issueStore, sender, opts, logger)
		if dlqProducer != nil {
			w.WithDeadLetterTopic(dlqProducer, cfg.NSQ.DLQTopic)
		}
		return w
	})

	startBacklogMonitor(ctx, repo, logger)

	done := make(chan error, 1)
	go func() { done <- workers.Run(ctx) }()
	logger.Plain().WithField("workers", cfg.Worker.Count).Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	cancel()
	if err := <-done; err != nil {
		logger.Plain().WithError(err).Error("worker pool exited with error")
	}
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// startBacklogMonitor periodically publishes the pending-task gauge so
// dashboards can watch queue depth without querying the database.
func startBacklogMonitor(ctx context.Context, repo *outbox.Repo, logger *logging.Logger) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pending, err := repo.PendingTotal(ctx)
				if err != nil {
					logger.Plain().WithError(err).Error("read delivery backlog failed")
					continue
				}
				metrics.UpdatePendingTasks(float64(pending))
			}
		}
	}()
}

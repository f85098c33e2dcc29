package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/config"
	"schoolattendance/internal/logger"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
	"schoolattendance/internal/sweep"
)

// Worker runs the daily absence sweep on schedule and on request.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	if err := run(cfg, lg); err != nil {
		lg.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, lg *zap.Logger) error {
	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	docs, err := store.OpenDocuments(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer docs.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			lg.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.WorkerMetricsPort != "" {
		srv := serveMetrics(cfg.WorkerMetricsPort, reg, lg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sweeper := sweep.New(attendance.NewRepository(docs), loc, sweep.Options{
		BatchSize:    cfg.SweepBatchSize,
		ChunkRetries: cfg.SweepChunkRetries,
	}, lg.Named("sweep"), m)
	job, err := sweep.NewJob(sweeper, cfg.SweepSchedule, loc, cfg.SweepTimeout, lg.Named("sweep"))
	if err != nil {
		return err
	}

	if cfg.SweepOnStart {
		job.Trigger(ctx)
	}
	job.Start()
	defer func() { <-job.Stop().Done() }()

	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	lg.Info("worker started",
		zap.String("schedule", cfg.SweepSchedule),
		zap.String("timezone", loc.String()),
	)
	consume(ctx, messages, job, lg)
	lg.Info("worker stopped")
	return nil
}

func serveMetrics(port string, reg *prometheus.Registry, lg *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics listener failed", zap.Error(err))
		}
	}()
	return srv
}

// trigger is the part of sweep.Job the consumer needs.
type trigger interface {
	Trigger(ctx context.Context)
}

func consume(ctx context.Context, messages <-chan queue.Message, job trigger, lg *zap.Logger) {
	for msg := range messages {
		if msg.Type != queue.TypeSweep {
			lg.Warn("ignoring message", zap.String("type", msg.Type))
			continue
		}
		req, err := msg.SweepRequest()
		if err != nil {
			lg.Warn("bad sweep request", zap.Error(err))
			continue
		}
		lg.Info("running requested sweep",
			zap.String("requested_by", req.RequestedBy),
			zap.Time("requested_at", req.RequestedAt),
		)
		job.Trigger(ctx)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/cards"
	"schoolattendance/internal/config"
	"schoolattendance/internal/logger"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/scan"
	"schoolattendance/internal/store"
)

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

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, lg); err != nil {
		lg.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, lg *zap.Logger) error {
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

	health := map[string]healthCheck{"store": docs.Healthy}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		lg.Warn("using in-memory queue; sweep requests will not reach the worker")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		health["redis"] = redisClient.Healthy
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher *cards.Publisher
	if cfg.CloudinaryConfigured() {
		publisher = cards.NewPublisher(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		lg.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		lg.Info("cloudinary not configured, card publishing disabled")
	}

	s := &server{
		cfg:       cfg,
		log:       lg,
		signer:    auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		stations:  scan.NewStations(cfg.SameIDCooldown, cfg.DifferentIDCooldown, cfg.QRMaxAge),
		att:       attendance.NewService(attendance.NewRepository(docs), loc, lg, m),
		queue:     q,
		publisher: publisher,
		metrics:   m,
		registry:  reg,
		health:    health,
		now:       time.Now,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	lg.Info("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server forced shutdown", zap.Error(err))
	}
	lg.Info("server exited")
	return nil
}

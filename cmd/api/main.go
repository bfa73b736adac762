package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelfit/internal/api"
	"github.com/dunamismax/pixelfit/internal/config"
	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/dunamismax/pixelfit/internal/queue"
	"github.com/dunamismax/pixelfit/internal/ratelimit"
	"github.com/dunamismax/pixelfit/internal/storage"
	"github.com/dunamismax/pixelfit/internal/store"
	"github.com/dunamismax/pixelfit/internal/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelfit-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	engine, err := pipeline.NewDefaultEngine(pipeline.Limits{
		MaxSourceBytes: cfg.Limits.MaxUploadBytes,
		MaxDimension:   cfg.Limits.MaxDimension,
		Timeout:        cfg.Limits.ProcessTimeout,
	})
	if err != nil {
		logger.Fatalf("engine init failed: %v", err)
	}
	defer pipeline.Shutdown()
	logger.Printf("engine ready codec=%s max_upload=%s max_dimension=%d timeout=%s",
		engine.CodecName(), humanize.IBytes(uint64(cfg.Limits.MaxUploadBytes)), cfg.Limits.MaxDimension, cfg.Limits.ProcessTimeout)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.ClientOptions{
		Queue:       cfg.Queue.Name,
		MaxRetry:    cfg.Queue.MaxRetry,
		TaskTimeout: cfg.Queue.TaskTimeout,
	})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := api.Options{
		Logger:          logger,
		Engine:          engine,
		Queue:           queueClient,
		PresignTTL:      cfg.API.PresignTTL,
		UserIDHeader:    cfg.RateLimit.UserIDHeader,
		MultipartMemory: cfg.API.MultipartMemory,
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := storageClient.EnsureBucket(bucketCtx); err != nil {
			logger.Printf("object storage disabled bucket=%s err=%v", cfg.Storage.Bucket, err)
		} else {
			opts.Storage = storageClient
		}
		cancel()
	}

	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pgStore.Close()
		opts.JobStore = pgStore
		logger.Printf("job store=postgres")
	} else {
		opts.JobStore = store.NewMemoryJobStore()
		logger.Printf("job store=memory")
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limit enabled capacity=%d window=%s header=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.UserIDHeader)
	}

	app, err := api.NewServer(opts)
	if err != nil {
		logger.Fatalf("api init failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

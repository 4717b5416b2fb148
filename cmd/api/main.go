package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"supporthub/internal/config"
	"supporthub/internal/db"
	"supporthub/internal/httpapi"
	"supporthub/internal/ingest"
	"supporthub/internal/sse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	registry := sse.NewRegistry()
	admitter := sse.NewAdmitter(registry, cfg.SSEMaxStreamsPerUser)
	router := sse.NewRouter(registry, admitter)
	reaper := sse.NewReaper(registry, admitter,
		time.Duration(cfg.SSEHeartbeatSeconds)*time.Second,
		time.Duration(cfg.SSEIdleTimeoutSeconds)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reaper.Run(ctx)

	consumer := ingest.NewConsumer(router)
	switch cfg.IngestProvider {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		go consumer.RunRedis(ctx, client, cfg.IngestChannel)
	default:
		go consumer.RunPostgres(ctx, cfg.DatabaseURL, cfg.IngestChannel)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			DB:                     pool,
			SessionPepper:          cfg.SessionPepper,
			AutomationWebhookToken: cfg.AutomationWebhookToken,
			Registry:               registry,
			Admitter:               admitter,
			Publisher:              router,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

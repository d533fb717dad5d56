package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"dormitory/internal/config"
	"dormitory/internal/queue"
	"dormitory/internal/rfid"
	"dormitory/internal/store"
	"dormitory/internal/worker"
)

// Worker consumes scan notifications and writes activity history.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is drained by the api process; the worker needs redis")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("warning: redis at %s not reachable, consumer will keep retrying", cfg.RedisAddr)
	}

	svc := rfid.NewService(rfid.NewRepository(db.Client), nil, cfg.ScanDebounce, cfg.Location())
	if err := worker.Run(ctx, queue.NewRedisQueue(redisClient.Client, queue.DefaultKey), svc); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
}

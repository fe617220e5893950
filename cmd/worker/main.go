package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker drains audit events from the queue into the store's audit log.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := checkConfig(cfg); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store connect failed: %v", err)
	}
	defer backend.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet, consumer will keep retrying", cfg.RedisAddr)
	}

	messages, err := queue.NewRedisQueue(redisClient.Client, "").Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("worker started on %s store, waiting for messages...", backend.Name)
	queue.RunAuditSink(ctx, messages, backend.Store)
	log.Println("worker stopped")
}

// checkConfig rejects setups where the worker would consume nothing or persist into
// a store nobody else can read.
func checkConfig(cfg config.App) error {
	if cfg.QueueBackend == "memory" {
		return errors.New("QUEUE_BACKEND=memory is consumed in-process by the api; the worker needs redis")
	}
	if cfg.StoreBackend == config.BackendMemory {
		return errors.New("STORE_BACKEND=memory would keep audit events in the worker's own process; use postgres or mongo")
	}
	return nil
}

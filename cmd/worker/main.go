package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"classcheckin/internal/attendance"
	"classcheckin/internal/config"
	"classcheckin/internal/notify"
	"classcheckin/internal/queue"
	"classcheckin/internal/store"
)

// Worker relays engine events to notification sinks and closes overdue
// sessions in the background.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreBackend == "memory" || cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs shared state: set STORE_BACKEND=postgres and QUEUE_BACKEND=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	// Sweep closures emit session.closed on the same queue.
	svc := attendance.NewService(attendance.NewRepository(db.Client), attendance.StaticSettings(cfg.Engine()),
		attendance.WithPublisher(attendance.NewQueuePublisher(q)),
		attendance.WithRetries(cfg.AdmissionRetries),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Println("worker started, waiting for events...")
		return notify.Relay(gctx, q, notify.Log{})
	})
	if cfg.AutoCloseSweep > 0 {
		g.Go(func() error {
			log.Printf("auto-close sweep every %s", cfg.AutoCloseSweep)
			return svc.RunSweeper(gctx, cfg.AutoCloseSweep)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}

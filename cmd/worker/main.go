package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/cache"
	"github.com/pulsepost/delivery-engine/internal/config"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/repository/postgres"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
	"github.com/pulsepost/delivery-engine/internal/transport"
	"github.com/pulsepost/delivery-engine/internal/worker"
)

func main() {
	log.Println("Starting delivery-engine worker...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to ping Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Wiring
	resultCache := cache.New(redisClient)
	jobQueue := queue.New(db, redisClient)

	campaignRepo := postgres.NewCampaignRepo(db)
	analyticsRepo := postgres.NewAnalyticsRepo(db)

	sender := transport.NewClient(cfg.Transport.BaseURL, cfg.Transport.APIKey,
		time.Duration(cfg.Transport.TimeoutSeconds)*time.Second, cfg.Transport.MaxRetries)

	aggregator := analytics.NewAggregator(analyticsRepo, resultCache)
	processor := batch.NewProcessor(sender, campaignRepo, aggregator, jobQueue)

	campaignSvc := campaign.NewService(campaignRepo, jobQueue, resultCache, campaign.Config{
		BatchSize:                 cfg.Batch.Size,
		RetryFailureRateThreshold: cfg.Retry.FailureRateThreshold,
	})

	// Job handlers
	pool := queue.NewPool(jobQueue, queue.PoolConfig{
		NumWorkers:   cfg.Queue.Workers,
		PollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
	})
	worker.RegisterHandlers(pool,
		worker.NewEmailJobHandler(campaignRepo, processor, jobQueue, cfg.Batch.Size),
		worker.NewAnalyticsJobHandler(aggregator))
	if err := pool.Start(); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	// Background loops
	scheduler := worker.NewCampaignScheduler(campaignRepo, jobQueue)
	scheduler.Start()

	completion := worker.NewCompletionChecker(campaignRepo, campaignSvc, jobQueue)
	completion.Start()

	rollup := worker.NewNightlyRollup(aggregator, resultCache, cfg.Rollup.HourUTC)
	rollup.Start()

	log.Printf("Worker running: %d pool workers, rollup at %02d:00 UTC",
		cfg.Queue.Workers, cfg.Rollup.HourUTC)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	rollup.Stop()
	completion.Stop()
	scheduler.Stop()
	pool.Stop()
	log.Println("Worker stopped")
}

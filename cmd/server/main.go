package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pulsepost/delivery-engine/internal/api"
	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/cache"
	"github.com/pulsepost/delivery-engine/internal/config"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/repository/postgres"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
	"github.com/pulsepost/delivery-engine/internal/service/reports"
	"github.com/pulsepost/delivery-engine/internal/transport"
)

func main() {
	log.Println("Starting delivery-engine server...")

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
	reportsRepo := postgres.NewReportsRepo(db)

	sender := transport.NewClient(cfg.Transport.BaseURL, cfg.Transport.APIKey,
		time.Duration(cfg.Transport.TimeoutSeconds)*time.Second, cfg.Transport.MaxRetries)

	aggregator := analytics.NewAggregator(analyticsRepo, resultCache)
	processor := batch.NewProcessor(sender, campaignRepo, aggregator, jobQueue)

	campaignSvc := campaign.NewService(campaignRepo, jobQueue, resultCache, campaign.Config{
		BatchSize:                 cfg.Batch.Size,
		RetryFailureRateThreshold: cfg.Retry.FailureRateThreshold,
	})

	reportsSvc := reports.NewService(reportsRepo, resultCache, reports.Config{
		DashboardTTL:      cfg.DashboardTTL(),
		ReportTTL:         cfg.ReportTTL(),
		RefreshThreshold:  cfg.Cache.RefreshThreshold,
		AggregateCoverage: cfg.Reports.AggregateCoverage,
	})

	handlers := api.NewHandlers(campaignSvc, reportsSvc, aggregator, jobQueue, resultCache, sender, processor)
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

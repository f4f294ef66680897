package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/safar/solestore/internal/api"
	"github.com/safar/solestore/internal/cache"
	"github.com/safar/solestore/internal/config"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/recovery"
	"github.com/safar/solestore/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	if err := database.MigrateUp(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Migrate database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Redis unavailable, coupon lookups will hit the database: %v", err)
	}

	coupons := cache.NewCouponCache(redisClient, cfg.Redis.CouponCacheTTL,
		func(ctx context.Context, code string) (*models.Coupon, error) {
			return store.GetCouponByCode(ctx, db, code)
		})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Recovery.Enabled {
		publisher := recovery.NewKafkaPublisher(cfg.Kafka.ReminderTopic, cfg.Kafka.Brokers...)
		defer publisher.Close()

		worker := recovery.NewWorker(&store.RecoveryRepository{DB: db}, publisher, cfg.Recovery)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(api.NewServer(db, cfg, coupons).Routes(), "solestore"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Println("Server exited")
}

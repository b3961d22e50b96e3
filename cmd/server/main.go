package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradejournal/position-engine/internal/api"
	"github.com/tradejournal/position-engine/internal/builder"
	"github.com/tradejournal/position-engine/internal/cache"
	"github.com/tradejournal/position-engine/internal/config"
	"github.com/tradejournal/position-engine/internal/database"
	"github.com/tradejournal/position-engine/internal/dedup"
	"github.com/tradejournal/position-engine/internal/ingest"
	"github.com/tradejournal/position-engine/internal/instrument"
	enginekafka "github.com/tradejournal/position-engine/internal/kafka"
	"github.com/tradejournal/position-engine/internal/rebuild"
)

func main() {
	cfg := config.Load()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ledger := dedup.NewLedger(redisClient)
	invalidator := cache.NewInvalidator(redisClient)
	multipliers := instrument.NewTable(cfg.Engine.Multipliers)

	producer := enginekafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.RebuildsTopic)
	defer producer.Close()

	positionBuilder := builder.New(db, db, multipliers)
	orchestrator := rebuild.New(positionBuilder, db, invalidator, producer, cfg.Engine.RebuildLockWait)
	importer := ingest.NewImporter(db, ledger, orchestrator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := enginekafka.NewConsumer(
		cfg.Kafka.Brokers, cfg.Kafka.ExecutionsTopic, cfg.Kafka.GroupID,
		db, ledger, orchestrator,
	)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka consumer stopped: %v", err)
		}
	}()

	handler := api.NewHandler(db, orchestrator, importer, ledger)
	router := api.SetupRoutes(handler)

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

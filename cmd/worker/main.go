package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"netguard-backend/cmd"
	"netguard-backend/internal/bridge"
	"netguard-backend/internal/config"
	"netguard-backend/internal/database"
	"netguard-backend/internal/jobs"
	"netguard-backend/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set for the standalone worker")
	}

	closeLog := cmd.SetupLogging(cfg)
	defer closeLog()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.CreateStorage(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Worker: Failed to create storage: %v", err)
	}

	service, pools, err := cmd.CreateModelService(cfg, bridge.WithRecorder(database.NewInvocationRecorder(db)))
	if err != nil {
		log.Fatalf("Worker: Failed to configure model runners: %v", err)
	}
	defer pools.Close()

	go pools.Warm()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := jobs.NewProcessor(db, store, receiver, service, cfg.JobBucket, cfg.JobWorkers)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutdown signal received, waiting for running jobs to finish")
		processor.Stop()
	}()

	slog.Info("worker started, waiting for tasks")
	processor.Start()

	slog.Info("worker process stopped")
}

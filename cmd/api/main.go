package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netguard-backend/cmd"
	"netguard-backend/internal/api"
	"netguard-backend/internal/bridge"
	"netguard-backend/internal/config"
	"netguard-backend/internal/database"
	"netguard-backend/internal/jobs"
	"netguard-backend/internal/messaging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// createQueue returns the training job transport. Without RABBITMQ_URL jobs run
// in this process and the returned processor must be started.
func createQueue(cfg config.Config) (messaging.Publisher, messaging.Receiver) {
	if cfg.RabbitMQURL == "" {
		queue := messaging.NewInMemoryQueue()
		return queue, queue
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	return publisher, nil
}

func createServer(cfg config.Config, backend *api.BackendService) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Route("/api", backend.AddRoutes)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	closeLog := cmd.SetupLogging(cfg)
	defer closeLog()

	slog.Info("starting backend", "port", cfg.Port, "database", cfg.DatabaseURL, "rabbitmq", cfg.RabbitMQURL != "")

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()

	store, err := cmd.CreateStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	service, pools, err := cmd.CreateModelService(cfg, bridge.WithRecorder(database.NewInvocationRecorder(db)))
	if err != nil {
		log.Fatalf("Failed to configure model runners: %v", err)
	}
	defer pools.Close()

	go pools.Warm()

	publisher, receiver := createQueue(cfg)
	defer publisher.Close()

	manager := jobs.NewManager(db, store, publisher, cfg.JobBucket)

	var processor *jobs.Processor
	if receiver != nil {
		processor = jobs.NewProcessor(db, store, receiver, service, cfg.JobBucket, cfg.JobWorkers)
		go processor.Start()

		if err := manager.RequeuePending(ctx); err != nil {
			log.Fatalf("Failed to requeue pending training jobs: %v", err)
		}
	}

	server := createServer(cfg, api.NewBackendService(service, pools, db, manager))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		if processor != nil {
			slog.Info("shutting down training job processor")
			processor.Stop()
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kenmoh/servipalbackend/api"
	"github.com/kenmoh/servipalbackend/config"
	"github.com/kenmoh/servipalbackend/media"
	"github.com/kenmoh/servipalbackend/orchestrator"
	"github.com/kenmoh/servipalbackend/queue"
	"github.com/kenmoh/servipalbackend/reconciler"
	"github.com/kenmoh/servipalbackend/services"
)

func main() {
	log.Println("Starting ServiPal media API...")

	// Load .env in dev only; production injects env vars through infra.
	if os.Getenv("APP_ENV") != "production" {
		godotenv.Load()
	}

	cfg := config.Load()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis successfully")

	dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbSvc.Close()
	log.Println("Connected to database successfully")

	s3Svc := services.NewS3Service(cfg)
	statusSvc := services.NewStatusService(redisClient)
	jobQueue := queue.New(redisClient, cfg.PendingQueue, cfg.ProcessingQueue, cfg.FailedQueue)

	orch := orchestrator.New(s3Svc, statusSvc, jobQueue, cfg.MaxRetries, cfg.ConversionTimeout)
	mediaSvc := media.NewService(dbSvc, s3Svc, orch)
	rec := reconciler.New(dbSvc, statusSvc, s3Svc)

	handler := api.NewHandler(orch, mediaSvc, rec, dbSvc)
	router := api.NewRouter(handler)

	cors := handlers.CORS(
		handlers.AllowedOrigins(strings.Split(cfg.AllowedOrigins, ",")),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      cors(router),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutdown signal received, draining requests...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Forced shutdown: %v", err)
	}

	redisClient.Close()
	log.Println("API stopped cleanly")
}

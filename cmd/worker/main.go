package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kenmoh/servipalbackend/config"
	"github.com/kenmoh/servipalbackend/queue"
	"github.com/kenmoh/servipalbackend/services"
	"github.com/kenmoh/servipalbackend/worker"
)

func main() {
	log.Println("Starting ServiPal conversion workers...")

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

	// A worker host without ffmpeg would fail every job; refuse to start.
	transcoder := services.NewFFmpegService(cfg.FFmpegBin, cfg.FFprobeBin)
	if err := transcoder.CheckDependencies(); err != nil {
		log.Fatalf("Transcoder unavailable: %v", err)
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

	s3Svc := services.NewS3Service(cfg)
	statusSvc := services.NewStatusService(redisClient)
	jobQueue := queue.New(redisClient, cfg.PendingQueue, cfg.ProcessingQueue, cfg.FailedQueue)

	pool := worker.NewPool(jobQueue, s3Svc, transcoder, statusSvc)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.RecoveryLoop(ctx)
	}()

	log.Printf("Started %d conversion workers", cfg.WorkerCount)
	log.Printf("Listening on Redis queue: %s", cfg.PendingQueue)
	log.Println("Service is ready to process conversions")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping workers...")
	cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All workers stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("Shutdown timeout, forcing exit")
	}

	redisClient.Close()
	log.Println("Conversion workers stopped")
}

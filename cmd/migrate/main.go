package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/kenmoh/servipalbackend/config"
	"github.com/kenmoh/servipalbackend/migrations"
)

func main() {
	if os.Getenv("APP_ENV") != "production" {
		godotenv.Load()
	}

	cfg := config.Load()

	log.Println("Applying database migrations...")
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}

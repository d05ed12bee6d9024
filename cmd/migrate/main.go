package main

import (
	"context"
	"log"
	"os"
	"time"

	"authservice/internal/database"
	"authservice/internal/logging"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"))

	db, err := database.Connect(databaseURL, logger)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := database.Migrate(ctx, db, databaseURL); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	logger.Info("migrations applied", "postgres", database.IsPostgres(databaseURL))
}

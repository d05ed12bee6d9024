package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"authservice/internal/config"
	"authservice/internal/database"
	"authservice/internal/domain"
	"authservice/internal/logging"
	"authservice/internal/pkg/password"
	"authservice/internal/repository"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// seed creates the admin account named by SEED_ADMIN_EMAIL, or promotes it if
// it already exists. An existing account keeps its password.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	email := strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL"))
	if email == "" {
		log.Fatal("SEED_ADMIN_EMAIL is required")
	}
	name := strings.TrimSpace(os.Getenv("SEED_ADMIN_NAME"))
	if name == "" {
		name = "Administrator"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("DB connection failed: %v", err)
	}
	if err := database.Migrate(ctx, db, cfg.DatabaseURL); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	users := repository.NewUserRepository(db)

	existing, err := users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if err := users.SetRole(ctx, existing.ID, domain.RoleAdmin); err != nil {
			log.Fatalf("promote failed: %v", err)
		}
		logger.Info("existing user promoted to admin", "user_id", existing.ID)
		return
	case !errors.Is(err, repository.ErrNotFound):
		log.Fatalf("lookup failed: %v", err)
	}

	pass := os.Getenv("SEED_ADMIN_PASSWORD")
	if len(pass) < 8 {
		log.Fatal("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}

	hasher, err := password.New(cfg.SaltRounds, 1)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(ctx, pass)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	admin := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatalf("create admin failed: %v", err)
	}

	logger.Info("admin created", "user_id", admin.ID, "email", admin.Email)
}

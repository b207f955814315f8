package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/appointment"
	"github.com/hackgods/session-scheduling/internal/db"
	"github.com/hackgods/session-scheduling/internal/logger"
	"github.com/hackgods/session-scheduling/internal/seed"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	professionals := envInt("SEED_PROFESSIONALS", 50)
	patients := envInt("SEED_PATIENTS", 2000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, log).Up(ctx); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	log.Info("seeding profiles", zap.Int("professionals", professionals), zap.Int("patients", patients))

	profiles := seed.Profiles(uint64(time.Now().UnixNano()), professionals, patients)
	if err := seed.Write(ctx, appointment.NewPgRepository(pool), profiles); err != nil {
		log.Fatal("seed profiles", zap.Error(err))
	}

	log.Info("seed complete", zap.Int("profiles", len(profiles)))
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

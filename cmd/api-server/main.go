package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/api"
	"github.com/hackgods/session-scheduling/internal/appointment"
	"github.com/hackgods/session-scheduling/internal/auth"
	"github.com/hackgods/session-scheduling/internal/config"
	"github.com/hackgods/session-scheduling/internal/db"
	"github.com/hackgods/session-scheduling/internal/logger"
	"github.com/hackgods/session-scheduling/internal/metrics"
	redisclient "github.com/hackgods/session-scheduling/internal/redis"
	"github.com/hackgods/session-scheduling/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := appointment.LoadDurationPolicyFile(cfg.DurationPolicyFile)
	if err != nil {
		log.Fatal("duration policy load error", zap.Error(err))
	}

	var (
		pgPool   *pgxpool.Pool
		repo     appointment.Repository
		profiles appointment.ProfileProvider
	)

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			log.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		applied, err := db.NewMigrator(pgPool, log).Up(rootCtx)
		if err != nil {
			log.Fatal("migration error", zap.Error(err))
		}
		log.Info("migrations up to date", zap.Int("applied", applied))

		pgRepo := appointment.NewPgRepository(pgPool)
		repo, profiles = pgRepo, pgRepo

	case config.BackendMemory:
		static := appointment.NewStaticProfiles()
		generated := seed.Profiles(0, 5, 20)
		if err := seed.Write(rootCtx, static, generated); err != nil {
			log.Fatal("seed memory profiles", zap.Error(err))
		}
		for _, p := range generated {
			log.Info("memory profile", zap.Stringer("id", p.ProfileID()), zap.String("kind", profileKind(p)))
		}
		repo, profiles = appointment.NewMemoryRepository(), static
	}

	var (
		rdb    *redis.Client
		locker = redisclient.NewNoopLocker()
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisParticipantLocker(rdb, cfg.LockTTL, cfg.LockWait)
		log.Info("connected to Redis")
	} else {
		log.Info("redis not configured, relying on the storage guard alone")
	}

	profiles = appointment.NewBreakerProfileProvider(profiles, appointment.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.ProfileBreakerFailures),
		OpenTimeout:         cfg.ProfileBreakerTimeout,
	}, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector("scheduling", reg)

	svc := appointment.NewService(repo, profiles, locker, appointment.Settings{
		Policy:          policy,
		GracePeriod:     cfg.GracePeriod,
		UnknownOffering: appointment.UnknownOfferingPolicy(cfg.UnknownModalityPolicy),
	}, log, m)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Tokens:  auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics: m,
		Logger:  log,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func profileKind(p appointment.Profile) string {
	switch p.(type) {
	case appointment.ProfessionalProfile:
		return "professional"
	case appointment.PatientProfile:
		return "patient"
	}
	return "organization"
}

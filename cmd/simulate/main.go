package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/appointment"
	"github.com/hackgods/session-scheduling/internal/auth"
	"github.com/hackgods/session-scheduling/internal/config"
	"github.com/hackgods/session-scheduling/internal/db"
	"github.com/hackgods/session-scheduling/internal/logger"
)

// SimConfig drives a contention run: every round fires Concurrency bookings
// from distinct patients at the same professional and start time.
type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Concurrency int
	FirstStart  time.Time
}

type professional struct {
	ID        uuid.UUID
	Specialty string
	Offering  string
}

type Simulator struct {
	config   SimConfig
	tokens   *auth.Tokens
	pro      professional
	duration int
	patients []uuid.UUID
	client   *http.Client
	log      *zap.Logger

	booking       OperationMetrics
	roundFailures int
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(baseCfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:      getInt("SIM_ROUNDS", 10),
		Concurrency: getInt("SIM_CONCURRENCY", 20),
		FirstStart:  randomFirstStart(),
	}
	if cfg.Rounds <= 0 || cfg.Concurrency <= 1 {
		log.Fatal("SIM_ROUNDS must be > 0 and SIM_CONCURRENCY > 1")
	}
	if baseCfg.StorageBackend != config.BackendPostgres {
		log.Fatal("simulate reads participants from Postgres; set STORAGE_BACKEND=postgres")
	}

	policy, err := appointment.LoadDurationPolicyFile(baseCfg.DurationPolicyFile)
	if err != nil {
		log.Fatal("duration policy load error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	pro, patients, err := loadParticipants(ctx, pgPool, cfg.Concurrency)
	if err != nil {
		log.Fatal("load participants", zap.Error(err))
	}

	sim := &Simulator{
		config:   cfg,
		tokens:   auth.NewTokens(baseCfg.JWTSecret, baseCfg.JWTIssuer),
		pro:      pro,
		duration: policy.Resolve(pro.Specialty).Min,
		patients: patients,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}

	log.Info("simulation starting",
		zap.Stringer("professional_id", pro.ID),
		zap.String("specialty", pro.Specialty),
		zap.Int("duration_minutes", sim.duration),
		zap.Int("rounds", cfg.Rounds),
		zap.Int("concurrency", cfg.Concurrency),
	)

	sim.Run(context.Background())
	sim.PrintReport()

	if sim.roundFailures > 0 {
		os.Exit(1)
	}
}

func loadParticipants(ctx context.Context, pool *pgxpool.Pool, patientLimit int) (professional, []uuid.UUID, error) {
	var (
		pro                 professional
		specialty, modality *string
	)
	err := pool.QueryRow(ctx, `
		SELECT user_id, specialty, work_modality
		FROM profiles
		WHERE role = 'professional'
		ORDER BY random()
		LIMIT 1
	`).Scan(&pro.ID, &specialty, &modality)
	if err != nil {
		return professional{}, nil, fmt.Errorf("load professional: %w", err)
	}
	if specialty != nil {
		pro.Specialty = *specialty
	}
	if modality != nil {
		pro.Offering = *modality
	}

	rows, err := pool.Query(ctx, `
		SELECT user_id FROM profiles WHERE role = 'patient' ORDER BY random() LIMIT $1
	`, patientLimit)
	if err != nil {
		return professional{}, nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	var patients []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return professional{}, nil, err
		}
		patients = append(patients, id)
	}
	if err := rows.Err(); err != nil {
		return professional{}, nil, err
	}
	if len(patients) < 2 {
		return professional{}, nil, fmt.Errorf("need at least 2 patients, found %d", len(patients))
	}

	return pro, patients, nil
}

// Run plays every round. Slots are spaced a day apart so rounds never
// contend with each other.
func (s *Simulator) Run(ctx context.Context) {
	for round := 0; round < s.config.Rounds; round++ {
		start := s.config.FirstStart.AddDate(0, 0, round)
		successes := s.runRound(ctx, start)
		if successes != 1 {
			s.roundFailures++
			s.log.Error("round did not produce exactly one booking",
				zap.Int("round", round),
				zap.Time("start", start),
				zap.Int("successes", successes),
			)
			continue
		}
		s.log.Info("round ok", zap.Int("round", round), zap.Time("start", start))
	}
}

func (s *Simulator) runRound(ctx context.Context, start time.Time) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	gate := make(chan struct{})
	for _, patientID := range s.patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-gate
			if s.book(ctx, patientID, start) {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(patientID)
	}

	close(gate)
	wg.Wait()
	return successes
}

func (s *Simulator) book(ctx context.Context, patientID uuid.UUID, start time.Time) bool {
	token, err := s.tokens.Issue(appointment.Actor{ID: patientID, Role: appointment.ActorPatient}, time.Minute)
	if err != nil {
		s.log.Error("issue token", zap.Error(err))
		return false
	}

	body, _ := json.Marshal(map[string]any{
		"professional_id":  s.pro.ID.String(),
		"start":            start.Format(time.RFC3339),
		"duration_minutes": s.duration,
		"modality":         simModality(s.pro.Offering),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		s.booking.Record(0, false, false)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	began := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if err != nil {
		s.booking.Record(latency, false, false)
		return false
	}
	defer resp.Body.Close()

	success := resp.StatusCode == http.StatusCreated
	conflict := resp.StatusCode == http.StatusConflict
	if !success && !conflict {
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		s.log.Warn("unexpected booking response", zap.Int("status", resp.StatusCode), zap.String("error", e.Error), zap.String("details", e.Details))
	}

	s.booking.Record(latency, success, conflict)
	return success
}

// randomFirstStart lands each run on a different stretch of days so repeated
// runs against the same database start from free slots.
func randomFirstStart() time.Time {
	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 30+rand.IntN(3650))
	return day.Add(time.Duration(8+rand.IntN(10)) * time.Hour)
}

// simModality picks a modality the professional accepts. Mixed and unknown
// offerings both take online.
func simModality(offering string) string {
	if appointment.ParseOffering(offering) == appointment.OfferingInPerson {
		return string(appointment.ModalityInPerson)
	}
	return string(appointment.ModalityOnline)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + rule())
	fmt.Println("SIMULATION REPORT")
	fmt.Println(rule())
	fmt.Printf("Rounds: %d\n", s.config.Rounds)
	fmt.Printf("Concurrent bookings per round: %d\n", len(s.patients))
	fmt.Printf("Rounds without exactly one booking: %d\n", s.roundFailures)
	fmt.Println()

	printOperationReport("Booking", &s.booking)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

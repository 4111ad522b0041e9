package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlink/clinic-core/internal/day"
	"github.com/medlink/clinic-core/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Bookings    int
	PostgresDSN string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	log.Printf("config: api=%s workers=%d bookings=%d", cfg.APIBaseURL, cfg.Workers, cfg.Bookings)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	clinicID, patients, err := loadDataPool(ctx, pgPool, cfg.Bookings)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded clinic %s with %d patients", clinicID, len(patients))

	client := &http.Client{Timeout: 10 * time.Second}
	metrics := &OperationMetrics{}

	runStorm(cfg, client, metrics, clinicID, patients)
	printReport(metrics)

	if err := verifyDenseNumbers(context.Background(), pgPool, clinicID); err != nil {
		log.Fatalf("verification failed: %v", err)
	}
	log.Println("token numbers verified dense and collision-free")
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  "http://localhost:8080",
		Workers:     20,
		Bookings:    200,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if v := os.Getenv("SIM_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("invalid SIM_WORKERS: %q", v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("SIM_BOOKINGS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("invalid SIM_BOOKINGS: %q", v)
		}
		cfg.Bookings = n
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

// loadDataPool picks one clinic and enough distinct patients so every
// booking targets its own patient. Duplicate-token rejections would
// otherwise dominate the run.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, count int) (uuid.UUID, []uuid.UUID, error) {
	var clinicID uuid.UUID
	err := pool.QueryRow(ctx, `SELECT id FROM clinics ORDER BY created_at LIMIT 1`).Scan(&clinicID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("pick clinic: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM principals
		WHERE role = 'patient'
		ORDER BY created_at
		LIMIT $1
	`, count)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	var patients []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return uuid.Nil, nil, err
		}
		patients = append(patients, id)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, nil, err
	}
	if len(patients) < count {
		return uuid.Nil, nil, fmt.Errorf("need %d patients, found %d (run the seed first)", count, len(patients))
	}

	return clinicID, patients, nil
}

func runStorm(cfg SimConfig, client *http.Client, metrics *OperationMetrics, clinicID uuid.UUID, patients []uuid.UUID) {
	jobs := make(chan uuid.UUID)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for patientID := range jobs {
				bookOnce(cfg, client, metrics, clinicID, patientID)
			}
		}()
	}

	start := time.Now()
	for _, patientID := range patients {
		jobs <- patientID
	}
	close(jobs)
	wg.Wait()

	log.Printf("storm complete: %d bookings in %s", len(patients), time.Since(start))
}

func bookOnce(cfg SimConfig, client *http.Client, metrics *OperationMetrics, clinicID, patientID uuid.UUID) {
	body, err := json.Marshal(map[string]string{
		"clinic_id": clinicID.String(),
		"reason":    "simulated visit",
	})
	if err != nil {
		log.Printf("marshal booking: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, cfg.APIBaseURL+"/tokens", bytes.NewReader(body))
	if err != nil {
		log.Printf("build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", patientID.String())
	req.Header.Set("X-Actor-Role", "patient")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated:
		metrics.Record(latency, true, false)
	case resp.StatusCode == http.StatusConflict:
		metrics.Record(latency, false, true)
	default:
		metrics.Record(latency, false, false)
	}
}

func printReport(metrics *OperationMetrics) {
	avg, min, max, p50, p95 := metrics.Stats()
	log.Printf("bookings: total=%d success=%d conflict=%d error=%d",
		atomic.LoadInt64(&metrics.Total),
		atomic.LoadInt64(&metrics.Success),
		atomic.LoadInt64(&metrics.Conflict),
		atomic.LoadInt64(&metrics.Error))
	log.Printf("latency: avg=%s min=%s max=%s p50=%s p95=%s", avg, min, max, p50, p95)
}

// verifyDenseNumbers checks today's queue at the target clinic: no
// duplicate numbers and no gaps from 1 to the count of tokens.
func verifyDenseNumbers(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID) error {
	rows, err := pool.Query(ctx, `
		SELECT number FROM visit_tokens
		WHERE clinic_id = $1 AND day = $2
		ORDER BY number
	`, clinicID, day.Today())
	if err != nil {
		return fmt.Errorf("load numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return err
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, n := range numbers {
		if n != i+1 {
			return fmt.Errorf("expected number %d at position %d, got %d", i+1, i, n)
		}
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/internal/db"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Token        string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	ReadRatio    float64
	SlotLimit    int
	Step         time.Duration
	PostgresDSN  string
}

// DataPool holds the bookable instants and the appointments created so far.
type DataPool struct {
	Instants []time.Time

	mu           sync.RWMutex
	appointments []int64
	wins         map[string]int // instant -> successful bookings
}

func (dp *DataPool) AddAppointment(id int64, at time.Time) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
	dp.wins[at.UTC().Format(time.RFC3339)]++
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// DoubleBooked lists every instant that more than one request won.
func (dp *DataPool) DoubleBooked() map[string]int {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := map[string]int{}
	for at, n := range dp.wins {
		if n > 1 {
			out[at] = n
		}
	}
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking  OperationMetrics
	Confirm  OperationMetrics
	ReadByID OperationMetrics
	ListOpen OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	logger := logging.Default().With("service", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting", "duration", cfg.Duration, "workers", cfg.Workers,
		"booking", cfg.BookingRatio, "confirm", cfg.ConfirmRatio, "read", cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded bookable instants", "count", len(dataPool.Instants))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
	sim.Run()

	if violations := sim.PrintReport(); violations > 0 {
		os.Exit(2)
	}
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Token:        os.Getenv("SIM_ADMIN_TOKEN"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 40),
		Step:         baseCfg.AppointmentDuration,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Step <= 0 {
		cfg.Step = 30 * time.Minute
	}
	return cfg, nil
}

// loadDataPool expands future availability windows into bookable instants.
// A small SlotLimit keeps workers colliding on the same instants.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT start_time, end_time FROM availability
		WHERE end_time > now()
		ORDER BY start_time
	`)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{wins: map[string]int{}}
	now := time.Now()
	for rows.Next() && len(dp.Instants) < cfg.SlotLimit {
		var start, end time.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		for t := start; t.Before(end) && len(dp.Instants) < cfg.SlotLimit; t = t.Add(cfg.Step) {
			if t.After(now) {
				dp.Instants = append(dp.Instants, t)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Instants) == 0 {
		return nil, fmt.Errorf("no future availability, run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case rng.Intn(2) == 0:
			s.doReadByID(ctx, rng)
		default:
			s.doListOpen(ctx)
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	at := s.pool.Instants[rng.Intn(len(s.pool.Instants))]

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/api/appointments", map[string]string{
		"phone_number":     "+5255" + gofakeit.Numerify("########"),
		"patient_name":     gofakeit.Name(),
		"appointment_date": at.Format(time.RFC3339),
		"appointment_type": "Consulta general",
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt struct {
				ID int64 `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != 0 {
				s.pool.AddAppointment(appt.ID, at)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	if ctx.Err() == nil {
		s.metrics.Booking.Record(latency, success, conflict)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPut, "/api/appointments/"+strconv.FormatInt(id, 10), map[string]string{"status": "confirmed"})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	if ctx.Err() == nil {
		s.metrics.Confirm.Record(latency, success, conflict)
	}
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/api/appointments/"+strconv.FormatInt(id, 10), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	if ctx.Err() == nil {
		s.metrics.ReadByID.Record(latency, success, false)
	}
}

func (s *Simulator) doListOpen(ctx context.Context) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/api/availability", nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	if ctx.Err() == nil {
		s.metrics.ListOpen.Record(latency, success, false)
	}
}

// PrintReport writes the run summary and returns how many instants were
// booked more than once.
func (s *Simulator) PrintReport() int {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended instants: %d\n\n", len(s.pool.Instants))

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List availability", &s.metrics.ListOpen)

	doubles := s.pool.DoubleBooked()
	if len(doubles) == 0 {
		fmt.Println("No instant was booked twice.")
		return 0
	}
	keys := make([]string, 0, len(doubles))
	for k := range doubles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("DOUBLE BOOKINGS: %d instants\n", len(keys))
	for _, k := range keys {
		fmt.Printf("  %s won %d times\n", k, doubles[k])
	}
	return len(keys)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

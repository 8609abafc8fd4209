package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/internal/db"
	"github.com/hackgods/clinic-assistant/internal/users"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Clinic hours the seeded availability windows cover, in clinic wall-clock.
var windows = [][2]int{{9, 13}, {15, 19}}

func main() {
	logger := logging.Default().With("service", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	loc := clinictime.Location(cfg.DefaultTimezone, "UTC")

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"settings", func(ctx context.Context) error { return seedSettings(ctx, pool, loc) }},
		{"availability", func(ctx context.Context) error { return seedAvailability(ctx, pool, loc, 14) }},
		{"patients", func(ctx context.Context) error { return seedPatients(ctx, pool, 200) }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			logger.Error("seed step failed", "step", step.name, "error", err)
			os.Exit(1)
		}
		logger.Info("seeded", "step", step.name)
	}

	if cfg.AdminEmail != "" {
		accounts := users.NewAccounts(users.NewPgRepository(pool), logger)
		if _, err := accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Error("seed admin", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded", "step", "admin", "email", cfg.AdminEmail)
	}

	logger.Info("seed complete")
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool, loc *time.Location) error {
	_, err := pool.Exec(ctx, `
		UPDATE clinic_settings
		SET clinic_name = $1, clinic_address = $2, clinic_phone = $3, clinic_email = $4,
		    working_hours = $5, services = $6, timezone = $7, bot_name = $8
		WHERE id = 1
	`,
		"Clínica "+gofakeit.LastName(),
		fmt.Sprintf("%s, %s", gofakeit.Street(), gofakeit.City()),
		"+5255"+gofakeit.Numerify("########"),
		gofakeit.Email(),
		"Lunes a viernes 9:00-13:00 y 15:00-19:00",
		"Consulta general, Limpieza dental, Valoración",
		loc.String(),
		"Sofía",
	)
	return err
}

// seedAvailability opens the clinic windows on each weekday starting tomorrow.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, loc *time.Location, days int) error {
	tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
	base := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, loc)

	batch := &pgx.Batch{}
	for d := 0; d < days; d++ {
		day := base.AddDate(0, 0, d)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, w := range windows {
			start := day.Add(time.Duration(w[0]) * time.Hour)
			end := day.Add(time.Duration(w[1]) * time.Hour)
			batch.Queue(`INSERT INTO availability (start_time, end_time) VALUES ($1, $2)`, start, end)
		}
	}
	return pool.SendBatch(ctx, batch).Close()
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (phone_number, name, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (phone_number) DO NOTHING
		`, "+5255"+gofakeit.Numerify("########"), gofakeit.Name())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

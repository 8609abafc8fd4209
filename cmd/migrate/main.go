package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/migrations"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	logger := logging.Default().With("service", "migrate")

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "config load error", err)
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		fatal(logger, "open db", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		fatal(logger, "ping db", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal(logger, "db driver", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		fatal(logger, "source driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		fatal(logger, "create migrator", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal(logger, "migrate up", err)
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal(logger, "migrate down", err)
		}
	case "force":
		if len(os.Args) < 3 {
			fatal(logger, "force needs a version", errors.New("missing version"))
		}
		v, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fatal(logger, "invalid version", err)
		}
		if err := m.Force(v); err != nil {
			fatal(logger, "force version", err)
		}
	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			fatal(logger, "read version", err)
		}
		logger.Info("schema version", "version", v, "dirty", dirty)
		return
	default:
		fatal(logger, "unknown command", errors.New(cmd))
	}

	v, dirty, _ := m.Version()
	logger.Info("migrations complete", "command", cmd, "version", v, "dirty", dirty)
}

func fatal(logger *logging.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

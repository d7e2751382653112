package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capsula-wallet/capsula/internal/config"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/storage"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv(config.EnvPrefix+"_POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dir       = flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
	)
	flag.Parse()

	if err := logger.Init(os.Getenv(config.EnvPrefix+"_LOG_FORMAT"), os.Getenv(config.EnvPrefix+"_LOG_LEVEL")); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if *dsn == "" {
		log.Fatalf("%s_POSTGRES_DSN or -dsn is required", config.EnvPrefix)
	}

	var dirn storage.MigrationDirection
	switch *direction {
	case "up":
		dirn = storage.MigrateUp
	case "down":
		dirn = storage.MigrateDown
	default:
		log.Fatalf("direction must be 'up' or 'down', got: %s", *direction)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	fsys := storage.EmbeddedMigrations()
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}

	applied, err := storage.Migrate(ctx, pool, fsys, dirn, *steps)
	for _, v := range applied {
		fmt.Printf("Applied migration: %s (%s)\n", v, dirn)
	}
	if err != nil {
		logger.Error(ctx, "migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}

	if len(applied) == 0 {
		fmt.Println("No migrations to apply")
	} else {
		fmt.Printf("Applied %d migration(s)\n", len(applied))
	}
}

package main

// Run database migrations:
//   go run ./cmd/migrate

import (
	"context"
	"os"

	"translator-backend/internal/shared/config"
	"translator-backend/internal/shared/storage/db"
	"translator-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(os.Stdout, cfg.LogLevel)
	ctx := context.Background()

	if cfg.JobStore != "postgres" {
		telemetry.Info("migrate.skipped", map[string]any{"job_store": cfg.JobStore})
		return
	}

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	version, err := db.RunMigrations(ctx, sqlDB)
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		sqlDB.Close()
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"version": version})
}

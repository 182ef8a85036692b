package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"

	"translator-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var gooseOnce sync.Once

// gooseLogger forwards goose output to the structured logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	telemetry.Info("db.migrate", map[string]any{"message": strings.TrimSpace(fmt.Sprintf(format, v...))})
}

func (gooseLogger) Fatalf(format string, v ...any) {
	telemetry.Error("db.migrate.fatal", map[string]any{"message": strings.TrimSpace(fmt.Sprintf(format, v...))})
}

func setupGoose() error {
	var err error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrationFiles)
		goose.SetLogger(gooseLogger{})
		err = goose.SetDialect("postgres")
	})
	return err
}

// RunMigrations applies the embedded translation_jobs migrations and returns
// the resulting schema version. A nil database is a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) (int64, error) {
	if database == nil {
		return 0, nil
	}
	if err := setupGoose(); err != nil {
		return 0, errors.Wrap(err, "configure goose")
	}
	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		return 0, errors.Wrap(err, "apply migrations")
	}
	version, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return version, nil
}

package storage

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5"
	_ "github.com/lib/pq"
)

const migrationPath = "migrations"

func runMigrations(db *sql.DB, log *zap.Logger) error {
	const op = "storage.migrations"

	goose.SetDialect("postgres")

	err := goose.Up(db, migrationPath)
	if err != nil {
		if err == goose.ErrNoNextVersion {
			log.Info("No migrations to apply")
			return nil
		}
		return fmt.Errorf("%s: %v", op, err)
	}
	log.Info("Database migrations applied successfully")
	return nil
}

package postgres

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies all pending migrations from sourcePath against databaseURL.
// A database that is already up to date is not an error.
func Migrate(databaseURL, sourcePath string) error {
	m, err := migrate.New(fmt.Sprintf("file://%s", sourcePath), databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("close migration source", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("close migration database", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	slog.Info("database migrations applied", "source", sourcePath)
	return nil
}

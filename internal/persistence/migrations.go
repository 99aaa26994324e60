package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect names a migration set.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) goose() (database.Dialect, error) {
	switch d {
	case DialectPostgres:
		return database.DialectPostgres, nil
	case DialectSQLite:
		return database.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", d)
	}
}

// RunMigrations applies the embedded migrations for dialect.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) error {
	if db == nil {
		return fmt.Errorf("run migrations: nil database handle")
	}

	gooseDialect, err := dialect.goose()
	if err != nil {
		return err
	}

	fsys, err := fs.Sub(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, res := range results {
		logger.Info("applied migration",
			zap.String("dialect", string(dialect)),
			zap.String("file", res.Source.Path),
			zap.Duration("duration", res.Duration),
		)
	}
	logger.Info("migrations applied", zap.String("dialect", string(dialect)), zap.Int("count", len(results)))
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"schwabstream/config"
)

// CreateDatabase connects to the server's maintenance database and creates
// cfg.DBName when it does not exist yet.
func CreateDatabase(ctx context.Context, cfg config.PostgresConfig, env string) error {
	admin := cfg
	admin.DBName = "postgres"
	dsn, err := admin.DSN(ctx, env)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer db.Close()

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := db.QueryRowContext(ctx, query, cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(cfg.DBName)); err != nil {
		return fmt.Errorf("create db failed: %w", err)
	}
	return nil
}

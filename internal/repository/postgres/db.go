package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
)

// psql builds queries with $n placeholders for lib/pq.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func NewDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// getOne runs a single-row query and maps sql.ErrNoRows to ErrRecordNotFound.
func getOne(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args ...interface{}) error {
	err := db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrRecordNotFound
	}
	return err
}

// execConditional runs a conditional update and maps zero affected rows to ErrStateConflict.
func execConditional(ctx context.Context, db *sqlx.DB, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrStateConflict
	}
	return nil
}

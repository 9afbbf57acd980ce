package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdai-labs/pdai/internal/db/drivers"
	"github.com/pdai-labs/pdai/internal/db/models"

	"github.com/uptrace/bun"
)

// NewConnection opens the local history database at path.
func NewConnection(ctx context.Context, path string) (drivers.Driver, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return drivers.NewSQLiteDriver(ctx, path)
}

// EnsureSchema creates missing tables so a fresh install works without an
// explicit migrate step.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tables := []interface{}{
			(*models.Prediction)(nil),
		}

		for _, table := range tables {
			if _, err := tx.NewCreateTable().
				Model(table).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
		return nil
	})
}

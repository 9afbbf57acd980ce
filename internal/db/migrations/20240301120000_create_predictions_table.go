package migrations

import (
	"context"

	"github.com/pdai-labs/pdai/internal/db/models"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Prediction)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		_, err := db.NewCreateIndex().
			Model((*models.Prediction)(nil)).
			Index("predictions_created_at_idx").
			IfNotExists().
			Column("created_at").
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropTable().Model((*models.Prediction)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

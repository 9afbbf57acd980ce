package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdai-labs/pdai/internal/db"
	"github.com/pdai-labs/pdai/internal/db/models"

	"github.com/stretchr/testify/require"
)

func TestPredictionRepository(t *testing.T) {
	ctx := context.Background()
	driver, err := db.NewConnection(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer driver.Close()
	require.NoError(t, db.EnsureSchema(ctx, driver.GetDB()))

	repo := NewPredictionRepository(driver.GetDB())

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, label := range []string{"NORMAL", "PNEUMONIA", "NORMAL"} {
		_, err := repo.Create(ctx, &models.Prediction{
			SourcePath:  "scan.png",
			Fingerprint: "abc",
			Class:       i % 2,
			Label:       label,
			Confidence:  0.9,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "NORMAL", recent[0].Label)
	require.Equal(t, "PNEUMONIA", recent[1].Label)

	got, err := repo.GetByID(ctx, recent[1].ID.String())
	require.NoError(t, err)
	require.Equal(t, 1, got.Class)

	require.NoError(t, repo.DeleteByID(ctx, got.ID.String()))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

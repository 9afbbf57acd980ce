package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pdai-labs/pdai/internal/db/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type IPredictionRepository interface {
	Repository[models.Prediction]
	ListRecent(ctx context.Context, limit int) ([]models.Prediction, error)
	Count(ctx context.Context) (int, error)
}

type PredictionRepository struct {
	db *bun.DB
}

func NewPredictionRepository(db *bun.DB) IPredictionRepository {
	return &PredictionRepository{db: db}
}

func (r *PredictionRepository) Create(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	if p == nil {
		return nil, fmt.Errorf("prediction model is nil")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.NewInsert().Model(p).Exec(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

func (r *PredictionRepository) GetByID(ctx context.Context, id string) (*models.Prediction, error) {
	var p models.Prediction
	if err := r.db.NewSelect().Model(&p).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *PredictionRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model(&models.Prediction{}).Where("id = ?", id).Exec(ctx)
	return err
}

func (r *PredictionRepository) ListRecent(ctx context.Context, limit int) ([]models.Prediction, error) {
	var out []models.Prediction
	err := r.db.NewSelect().
		Model(&out).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *PredictionRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.Prediction)(nil)).Count(ctx)
}

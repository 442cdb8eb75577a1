package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

type SearchMetricRepo interface {
	Create(ctx context.Context, tx *gorm.DB, metrics []*types.SearchMetric) ([]*types.SearchMetric, error)
	RecentByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.SearchMetric, error)
}

type searchMetricRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchMetricRepo(db *gorm.DB, baseLog *logger.Logger) SearchMetricRepo {
	return &searchMetricRepo{db: db, log: baseLog.With("repo", "SearchMetricRepo")}
}

func (r *searchMetricRepo) Create(ctx context.Context, tx *gorm.DB, metrics []*types.SearchMetric) ([]*types.SearchMetric, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(metrics) == 0 {
		return []*types.SearchMetric{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}

func (r *searchMetricRepo) RecentByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.SearchMetric, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SearchMetric
	if ownerID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

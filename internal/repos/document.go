package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, docs []*types.Document) ([]*types.Document, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error)
	GetByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, docTypes []string, limit, offset int) ([]*types.Document, error)
	GetWithEmbeddingsByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, docTypes []string) ([]*types.Document, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error)
	DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error)
	CountByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, docs []*types.Document) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(docs) == 0 {
		return []*types.Document{}, nil
	}

	// Keep batches small because content and embedding columns are large.
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(docs, batchSize).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) GetByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, docTypes []string, limit, offset int) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if ownerID == uuid.Nil {
		return results, nil
	}
	q := transaction.WithContext(ctx).Where("owner_user_id = ?", ownerID)
	if len(docTypes) > 0 {
		q = q.Where("doc_type IN ?", docTypes)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Order("created_at ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetWithEmbeddingsByOwner loads only documents carrying a non-empty
// embedding array, which is what the retrieval path ranks over.
func (r *documentRepo) GetWithEmbeddingsByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, docTypes []string) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if ownerID == uuid.Nil {
		return results, nil
	}
	q := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Where("jsonb_typeof(embedding) = 'array' AND jsonb_array_length(embedding) > 0")
	if len(docTypes) > 0 {
		q = q.Where("doc_type IN ?", docTypes)
	}
	if err := q.Order("created_at ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.Document{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *documentRepo) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Delete(&types.Document{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *documentRepo) CountByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("owner_user_id = ?", ownerID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

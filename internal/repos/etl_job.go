package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

var terminalJobStatuses = []string{types.JobStatusCompleted, types.JobStatusFailed}

type ETLJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.ETLJob) ([]*types.ETLJob, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ETLJob, error)
	GetLatestBySource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (*types.ETLJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	HasActiveForSource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (bool, error)
	ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) ([]*types.ETLJob, error)
	FailStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error)
}

type etlJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewETLJobRepo(db *gorm.DB, baseLog *logger.Logger) ETLJobRepo {
	return &etlJobRepo{db: db, log: baseLog.With("repo", "ETLJobRepo")}
}

func (r *etlJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.ETLJob) ([]*types.ETLJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.ETLJob{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *etlJobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ETLJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ETLJob
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *etlJobRepo) GetLatestBySource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (*types.ETLJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerID == uuid.Nil || sourceRecordID == "" {
		return nil, nil
	}
	var job types.ETLJob
	err := transaction.WithContext(ctx).
		Where("owner_user_id = ? AND source_record_id = ?", ownerID, sourceRecordID).
		Order("started_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *etlJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ETLJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// HasActiveForSource reports whether a non-terminal job exists for the
// (owner, source record) pair. The job row, not an in-memory lock, is the
// coordination point because jobs may be started from independent processes.
func (r *etlJobRepo) HasActiveForSource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ETLJob{}).
		Where("owner_user_id = ? AND source_record_id = ? AND status NOT IN ?",
			ownerID, sourceRecordID, terminalJobStatuses).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListStale returns non-terminal jobs whose last update is older than the
// cutoff, oldest first.
func (r *etlJobRepo) ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) ([]*types.ETLJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ETLJob
	if err := transaction.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?", terminalJobStatuses, olderThan).
		Order("updated_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FailStale reclassifies non-terminal jobs whose last update is older than
// the cutoff. Returns the number of jobs transitioned.
func (r *etlJobRepo) FailStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&types.ETLJob{}).
		Where("status NOT IN ? AND updated_at < ?", terminalJobStatuses, olderThan).
		Updates(map[string]interface{}{
			"status":        types.JobStatusFailed,
			"error_type":    types.ErrorTypeTimeout,
			"error_message": "job exceeded staleness window",
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending               = "pending"
	JobStatusProcessingQueries     = "processing_queries"
	JobStatusTransformingDocuments = "transforming_documents"
	JobStatusCompleted             = "completed"
	JobStatusFailed                = "failed"
)

// Pipeline stage names recorded in current_step / failed_stage.
const (
	StageExtraction     = "extraction"
	StageTransformation = "transformation"
	StageEmbedding      = "embedding"
	StageStorage        = "storage"
)

const (
	ErrorTypeTimeout    = "timeout"
	ErrorTypeExtraction = "extraction_error"
	ErrorTypeTransform  = "transformation_error"
	ErrorTypeEmbedding  = "embedding_error"
	ErrorTypeStorage    = "storage_error"
	ErrorTypeValidation = "validation_error"
)

type ETLJob struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	SourceRecordID   string         `gorm:"column:source_record_id;not null;index" json:"source_record_id"`
	Status           string         `gorm:"column:status;not null;index" json:"status"`
	CurrentStep      string         `gorm:"column:current_step" json:"current_step"`
	Progress         int            `gorm:"column:progress;not null;default:0" json:"progress"`
	CompletedSteps   int            `gorm:"column:completed_steps;not null;default:0" json:"completed_steps"`
	TotalSteps       int            `gorm:"column:total_steps;not null;default:0" json:"total_steps"`
	RetryCount       int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	ErrorMessage     string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorType        string         `gorm:"column:error_type" json:"error_type,omitempty"`
	FailedStage      string         `gorm:"column:failed_stage" json:"failed_stage,omitempty"`
	DocumentsCreated datatypes.JSON `gorm:"type:jsonb;column:documents_created" json:"documents_created"`
	StartedAt        time.Time      `gorm:"not null;default:now();index" json:"started_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (ETLJob) TableName() string {
	return "etl_job"
}

func (j *ETLJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SearchMetric is one recorded retrieval query, kept for threshold and
// index tuning analysis.
type SearchMetric struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	DocTypes            datatypes.JSON `gorm:"type:jsonb;column:doc_types" json:"doc_types"`
	LatencyMs           int64          `gorm:"column:latency_ms;not null" json:"latency_ms"`
	DocumentsConsidered int            `gorm:"column:documents_considered;not null" json:"documents_considered"`
	ResultsReturned     int            `gorm:"column:results_returned;not null" json:"results_returned"`
	SimilarityThreshold float64        `gorm:"column:similarity_threshold;not null" json:"similarity_threshold"`
	CreatedAt           time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (SearchMetric) TableName() string {
	return "search_metric"
}

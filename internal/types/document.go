package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EmbeddingDimension is the fixed length of every stored vector.
const EmbeddingDimension = 768

const (
	DocTypeUserProfile           = "USER_PROFILE"
	DocTypePersonalityProfile    = "PERSONALITY_PROFILE"
	DocTypeThinkingSkills        = "THINKING_SKILLS"
	DocTypeCareerRecommendations = "CAREER_RECOMMENDATIONS"
	DocTypeLearningStyle         = "LEARNING_STYLE"
	DocTypeCompetencyAnalysis    = "COMPETENCY_ANALYSIS"
	DocTypePreferenceAnalysis    = "PREFERENCE_ANALYSIS"
)

// Reserved metadata keys.
const (
	MetaVersionCount          = "version_count"
	MetaPreviousVersion       = "previous_version"
	MetaHypotheticalQuestions = "hypothetical_questions"
	MetaSearchableText        = "searchable_text"
	MetaDataSources           = "data_sources"
	MetaIsFallback            = "is_fallback"
	MetaPlaceholderEmbedding  = "placeholder_embedding"
)

func DocTypes() []string {
	return []string{
		DocTypeUserProfile,
		DocTypePersonalityProfile,
		DocTypeThinkingSkills,
		DocTypeCareerRecommendations,
		DocTypeLearningStyle,
		DocTypeCompetencyAnalysis,
		DocTypePreferenceAnalysis,
	}
}

func IsValidDocType(docType string) bool {
	switch docType {
	case DocTypeUserProfile,
		DocTypePersonalityProfile,
		DocTypeThinkingSkills,
		DocTypeCareerRecommendations,
		DocTypeLearningStyle,
		DocTypeCompetencyAnalysis,
		DocTypePreferenceAnalysis:
		return true
	default:
		return false
	}
}

type Document struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	DocType     string         `gorm:"column:doc_type;not null;index" json:"doc_type"`
	Content     datatypes.JSON `gorm:"type:jsonb;column:content;not null" json:"content"`
	SummaryText string         `gorm:"column:summary_text;not null" json:"summary_text"`
	Embedding   datatypes.JSON `gorm:"type:jsonb;column:embedding;not null" json:"embedding"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Document) TableName() string {
	return "document"
}

func (d *Document) ContentMap() (map[string]any, error) {
	if len(d.Content) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(d.Content, &m); err != nil {
		return nil, fmt.Errorf("decode document content: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (d *Document) SetContentMap(m map[string]any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document content: %w", err)
	}
	d.Content = datatypes.JSON(b)
	return nil
}

func (d *Document) MetadataMap() (map[string]any, error) {
	if len(d.Metadata) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(d.Metadata, &m); err != nil {
		return nil, fmt.Errorf("decode document metadata: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (d *Document) SetMetadataMap(m map[string]any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}
	d.Metadata = datatypes.JSON(b)
	return nil
}

func (d *Document) EmbeddingVector() ([]float32, error) {
	if len(d.Embedding) == 0 {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal(d.Embedding, &v); err != nil {
		return nil, fmt.Errorf("decode document embedding: %w", err)
	}
	return v, nil
}

func (d *Document) SetEmbeddingVector(v []float32) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document embedding: %w", err)
	}
	d.Embedding = datatypes.JSON(b)
	return nil
}

// VersionCount reads the metadata version counter; zero when unset.
func (d *Document) VersionCount() int {
	m, err := d.MetadataMap()
	if err != nil {
		return 0
	}
	switch v := m[MetaVersionCount].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

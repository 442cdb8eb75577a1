package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/talentwise/assessment-rag-backend/internal/types"
)

const minSummaryLength = 10

// validateDocument enforces the structural contract shared by every type:
// enumerated doc_type, exact embedding length, minimum summary length, and
// the per-type required content fields.
func validateDocument(doc *types.Document) error {
	if !types.IsValidDocType(doc.DocType) {
		return fmt.Errorf("%w: invalid doc_type %q", ErrValidation, doc.DocType)
	}
	if len(strings.TrimSpace(doc.SummaryText)) < minSummaryLength {
		return fmt.Errorf("%w: summary_text must be at least %d characters", ErrValidation, minSummaryLength)
	}
	vec, err := doc.EmbeddingVector()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(vec) != types.EmbeddingDimension {
		return fmt.Errorf("%w: embedding must have length %d, got %d", ErrValidation, types.EmbeddingDimension, len(vec))
	}
	content, err := doc.ContentMap()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return validateContent(doc.DocType, content)
}

// validateContent dispatches on the doc_type tag. Types without a hard-coded
// schema only need non-empty content.
func validateContent(docType string, content map[string]any) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	switch docType {
	case types.DocTypePersonalityProfile:
		if err := requireStringField(content, "primary_tendency"); err != nil {
			return err
		}
		if err := requireStringField(content, "secondary_tendency"); err != nil {
			return err
		}
		if err := requireListField(content, "top_tendencies", 0); err != nil {
			return err
		}
	case types.DocTypeThinkingSkills:
		if err := requireListField(content, "core_thinking_skills", 0); err != nil {
			return err
		}
	case types.DocTypeCareerRecommendations:
		if err := requireListField(content, "recommended_careers", 1); err != nil {
			return err
		}
	}
	return nil
}

func requireStringField(content map[string]any, key string) error {
	v, ok := content[key]
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: field %q must be a non-empty string", ErrValidation, key)
	}
	return nil
}

func requireListField(content map[string]any, key string, minLen int) error {
	v, ok := content[key]
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrValidation, key)
	}
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: field %q must be a list", ErrValidation, key)
	}
	if len(list) < minLen {
		return fmt.Errorf("%w: field %q must have at least %d item(s)", ErrValidation, key, minLen)
	}
	return nil
}

// ensureBaseMetadata initializes the version counter for fresh documents.
func ensureBaseMetadata(doc *types.Document) error {
	meta, err := doc.MetadataMap()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, ok := meta[types.MetaVersionCount]; !ok {
		meta[types.MetaVersionCount] = 0
	}
	return doc.SetMetadataMap(meta)
}

// mergeDocumentUpdate validates the changed fields against the existing
// document and produces the column updates, including the version bump and
// previous_version snapshot.
func mergeDocumentUpdate(doc *types.Document, update DocumentUpdate) (map[string]interface{}, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"updated_at": now,
	}

	prevContent, err := doc.ContentMap()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	meta, err := doc.MetadataMap()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if update.Content != nil {
		if err := validateContent(doc.DocType, update.Content); err != nil {
			return nil, err
		}
		next := &types.Document{}
		if err := next.SetContentMap(update.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		updates["content"] = next.Content
	}
	if update.SummaryText != nil {
		if len(strings.TrimSpace(*update.SummaryText)) < minSummaryLength {
			return nil, fmt.Errorf("%w: summary_text must be at least %d characters", ErrValidation, minSummaryLength)
		}
		updates["summary_text"] = *update.SummaryText
	}
	if update.Embedding != nil {
		if len(update.Embedding) != types.EmbeddingDimension {
			return nil, fmt.Errorf("%w: embedding must have length %d, got %d", ErrValidation, types.EmbeddingDimension, len(update.Embedding))
		}
		next := &types.Document{}
		if err := next.SetEmbeddingVector(update.Embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		updates["embedding"] = next.Embedding
	}

	for k, v := range update.Metadata {
		meta[k] = v
	}
	meta[types.MetaVersionCount] = doc.VersionCount() + 1
	meta[types.MetaPreviousVersion] = map[string]any{
		"content":      prevContent,
		"summary_text": doc.SummaryText,
		"updated_at":   doc.UpdatedAt.Format(time.RFC3339Nano),
	}
	next := &types.Document{}
	if err := next.SetMetadataMap(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	updates["metadata"] = next.Metadata

	return updates, nil
}

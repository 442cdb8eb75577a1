package services

import (
	"fmt"
	"strings"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// TransformerService maps extraction results into document drafts, one or
// more per document type. When the expected rows are absent and the fallback
// policy allows, a clearly tagged mock draft fills the gap so downstream
// consumers always see full type coverage.
type TransformerService interface {
	Transform(results map[string]QueryResult) ([]*types.DocumentDraft, error)
}

type documentTransformer struct {
	log             *logger.Logger
	fallbackEnabled bool
}

func NewDocumentTransformer(baseLog *logger.Logger, fallbackEnabled bool) TransformerService {
	return &documentTransformer{
		log:             baseLog.With("service", "DocumentTransformer"),
		fallbackEnabled: fallbackEnabled,
	}
}

type draftBuilder struct {
	docType string
	build   func(results map[string]QueryResult) (*types.DocumentDraft, error)
}

func (t *documentTransformer) Transform(results map[string]QueryResult) ([]*types.DocumentDraft, error) {
	if results == nil {
		results = map[string]QueryResult{}
	}

	builders := []draftBuilder{
		{types.DocTypeUserProfile, t.buildUserProfile},
		{types.DocTypePersonalityProfile, t.buildPersonalityProfile},
		{types.DocTypeThinkingSkills, t.buildThinkingSkills},
		{types.DocTypeCareerRecommendations, t.buildCareerRecommendations},
		{types.DocTypeLearningStyle, t.buildLearningStyle},
		{types.DocTypeCompetencyAnalysis, t.buildCompetencyAnalysis},
		{types.DocTypePreferenceAnalysis, t.buildPreferenceAnalysis},
	}

	drafts := make([]*types.DocumentDraft, 0, len(builders))
	for _, b := range builders {
		draft, err := b.build(results)
		if err != nil {
			// Structural failure is scoped to this type; degrade to fallback.
			t.log.Warn("Draft build failed", "doc_type", b.docType, "error", err)
			draft = nil
		}
		if draft == nil {
			if !t.fallbackEnabled {
				continue
			}
			draft = t.fallbackDraft(b.docType)
		}
		t.annotate(draft)
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// annotate attaches the paraphrased questions and searchable text every
// draft carries, real or fallback.
func (t *documentTransformer) annotate(draft *types.DocumentDraft) {
	draft.HypotheticalQuestions = hypotheticalQuestions(draft.SummaryText)
	draft.SearchableText = searchableText(draft.SummaryText, draft.HypotheticalQuestions)
	if len(draft.DataSources) == 0 {
		draft.DataSources = []string{"legacy_assessment"}
	}
}

func (t *documentTransformer) buildUserProfile(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryPersonalInfo)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	name, err := stringField(row, "name")
	if err != nil {
		return nil, err
	}
	content := map[string]any{
		"name":            name,
		"age":             row["age"],
		"gender":          row["gender"],
		"education_level": row["education_level"],
	}
	summary := fmt.Sprintf("Profile of %s covering demographics and assessment context.", name)
	return &types.DocumentDraft{
		DocType:     types.DocTypeUserProfile,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildPersonalityProfile(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryTendencyRanks)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "tendency_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	primary := names[0]
	secondary := primary
	if len(names) > 1 {
		secondary = names[1]
	}
	top := names
	if len(top) > 3 {
		top = top[:3]
	}
	content := map[string]any{
		"primary_tendency":   primary,
		"secondary_tendency": secondary,
		"top_tendencies":     toAnySlice(top),
	}
	summary := fmt.Sprintf("Personality tendency analysis: primary tendency %s, secondary tendency %s.", primary, secondary)
	return &types.DocumentDraft{
		DocType:     types.DocTypePersonalityProfile,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildThinkingSkills(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryThinkingSkills)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	skills := make([]any, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "skill_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		skills = append(skills, map[string]any{
			"name":       name,
			"score":      row["score"],
			"percentile": row["percentile"],
		})
	}
	content := map[string]any{
		"core_thinking_skills": skills,
	}
	summary := fmt.Sprintf("Thinking skills assessment highlighting %s.", joinReadable(names, 3))
	return &types.DocumentDraft{
		DocType:     types.DocTypeThinkingSkills,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildCareerRecommendations(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryCareerRecommendations)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	careers := make([]any, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "career_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		careers = append(careers, map[string]any{
			"name":        name,
			"match_score": row["match_score"],
			"category":    row["category"],
		})
	}
	content := map[string]any{
		"recommended_careers": careers,
	}
	summary := fmt.Sprintf("Career recommendations led by %s based on assessment fit.", joinReadable(names, 3))
	return &types.DocumentDraft{
		DocType:     types.DocTypeCareerRecommendations,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildLearningStyle(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryLearningStyle)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	styles := make([]any, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "style_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		styles = append(styles, map[string]any{
			"name":        name,
			"score":       row["score"],
			"description": row["description"],
		})
	}
	content := map[string]any{
		"learning_styles": styles,
		"dominant_style":  names[0],
	}
	summary := fmt.Sprintf("Learning style analysis with dominant style %s.", names[0])
	return &types.DocumentDraft{
		DocType:     types.DocTypeLearningStyle,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildCompetencyAnalysis(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryCompetencies)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	comps := make([]any, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "competency_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		comps = append(comps, map[string]any{
			"name":  name,
			"score": row["score"],
			"rank":  row["rank"],
		})
	}
	content := map[string]any{
		"competencies": comps,
	}
	summary := fmt.Sprintf("Competency analysis with top strengths in %s.", joinReadable(names, 3))
	return &types.DocumentDraft{
		DocType:     types.DocTypeCompetencyAnalysis,
		Content:     content,
		SummaryText: summary,
	}, nil
}

func (t *documentTransformer) buildPreferenceAnalysis(results map[string]QueryResult) (*types.DocumentDraft, error) {
	rows, ok := successfulRows(results, QueryPreferences)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	prefs := make([]any, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		name, err := stringField(row, "preference_name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		prefs = append(prefs, map[string]any{
			"name":          name,
			"response_rate": row["response_rate"],
			"description":   row["description"],
		})
	}
	content := map[string]any{
		"preferences": prefs,
	}
	summary := fmt.Sprintf("Preference analysis covering interests such as %s.", joinReadable(names, 3))
	return &types.DocumentDraft{
		DocType:     types.DocTypePreferenceAnalysis,
		Content:     content,
		SummaryText: summary,
	}, nil
}

// fallbackDraft synthesizes a tagged mock draft so type coverage stays
// complete when source rows are absent.
func (t *documentTransformer) fallbackDraft(docType string) *types.DocumentDraft {
	var content map[string]any
	var summary string
	switch docType {
	case types.DocTypeUserProfile:
		content = map[string]any{"name": "Unknown", "age": nil, "gender": nil}
		summary = "Profile information was not available; a placeholder profile is used."
	case types.DocTypePersonalityProfile:
		content = map[string]any{
			"primary_tendency":   "Balanced",
			"secondary_tendency": "Adaptive",
			"top_tendencies":     []any{"Balanced", "Adaptive", "Steady"},
		}
		summary = "Personality tendency data was not available; a balanced default profile is used."
	case types.DocTypeThinkingSkills:
		content = map[string]any{
			"core_thinking_skills": []any{
				map[string]any{"name": "Analytical thinking", "score": nil},
				map[string]any{"name": "Creative thinking", "score": nil},
			},
		}
		summary = "Thinking skills data was not available; representative skills are listed without scores."
	case types.DocTypeCareerRecommendations:
		content = map[string]any{
			"recommended_careers": []any{
				map[string]any{"name": "General administration", "match_score": nil},
			},
		}
		summary = "Career recommendation data was not available; a generic recommendation placeholder is used."
	case types.DocTypeLearningStyle:
		content = map[string]any{"learning_styles": []any{}, "dominant_style": "Unspecified"}
		summary = "Learning style data was not available; the dominant style is unspecified."
	case types.DocTypeCompetencyAnalysis:
		content = map[string]any{"competencies": []any{}}
		summary = "Competency analysis data was not available; no competencies could be scored."
	default:
		content = map[string]any{"preferences": []any{}}
		summary = "Preference analysis data was not available; no preference signals were recorded."
	}
	return &types.DocumentDraft{
		DocType:     docType,
		Content:     content,
		SummaryText: summary,
		DataSources: []string{"mock_data"},
		IsFallback:  true,
	}
}

func successfulRows(results map[string]QueryResult, name string) ([]map[string]any, bool) {
	res, ok := results[name]
	if !ok || !res.Success {
		return nil, false
	}
	return res.Rows, true
}

func stringField(row map[string]any, key string) (string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing field %q", ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: field %q is not a usable string", ErrValidation, key)
	}
	return strings.TrimSpace(s), nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func joinReadable(names []string, max int) string {
	if len(names) == 0 {
		return "none"
	}
	if len(names) > max {
		names = names[:max]
	}
	return strings.Join(names, ", ")
}

package services

import (
	"strings"
	"testing"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func fullExtractionResults() map[string]QueryResult {
	return map[string]QueryResult{
		QueryPersonalInfo: {Success: true, Rows: []map[string]any{
			{"name": "Kim Minjun", "age": int64(24), "gender": "male", "education_level": "university"},
		}},
		QueryTendencyRanks: {Success: true, Rows: []map[string]any{
			{"tendency_name": "Investigative", "rank": int64(1), "score": 88.5},
			{"tendency_name": "Artistic", "rank": int64(2), "score": 76.0},
			{"tendency_name": "Social", "rank": int64(3), "score": 64.2},
			{"tendency_name": "Realistic", "rank": int64(4), "score": 51.0},
		}},
		QueryThinkingSkills: {Success: true, Rows: []map[string]any{
			{"skill_name": "Logical reasoning", "score": 91.0, "percentile": 95.0},
			{"skill_name": "Spatial reasoning", "score": 72.0, "percentile": 70.0},
		}},
		QueryCareerRecommendations: {Success: true, Rows: []map[string]any{
			{"career_name": "Data analyst", "match_score": 0.92, "category": "STEM"},
			{"career_name": "Research scientist", "match_score": 0.88, "category": "STEM"},
		}},
		QueryLearningStyle: {Success: true, Rows: []map[string]any{
			{"style_name": "Visual", "score": 80.0, "description": "learns through diagrams"},
		}},
		QueryCompetencies: {Success: true, Rows: []map[string]any{
			{"competency_name": "Problem solving", "score": 85.0, "rank": int64(1)},
		}},
		QueryPreferences: {Success: true, Rows: []map[string]any{
			{"preference_name": "Working with data", "response_rate": 0.9, "description": "strong interest"},
		}},
	}
}

func draftByType(t *testing.T, drafts []*types.DocumentDraft, docType string) *types.DocumentDraft {
	t.Helper()
	for _, d := range drafts {
		if d.DocType == docType {
			return d
		}
	}
	t.Fatalf("no draft produced for %s", docType)
	return nil
}

func TestTransform_ProducesAllSevenTypes(t *testing.T) {
	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(fullExtractionResults())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(drafts) != 7 {
		t.Fatalf("expected 7 drafts, got %d", len(drafts))
	}
	seen := map[string]bool{}
	for _, d := range drafts {
		seen[d.DocType] = true
		if d.IsFallback {
			t.Fatalf("draft %s should not be a fallback", d.DocType)
		}
	}
	for _, dt := range types.DocTypes() {
		if !seen[dt] {
			t.Fatalf("missing draft for %s", dt)
		}
	}
}

func TestTransform_PersonalityProfileShape(t *testing.T) {
	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(fullExtractionResults())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	d := draftByType(t, drafts, types.DocTypePersonalityProfile)

	if d.Content["primary_tendency"] != "Investigative" {
		t.Fatalf("unexpected primary_tendency: %v", d.Content["primary_tendency"])
	}
	if d.Content["secondary_tendency"] != "Artistic" {
		t.Fatalf("unexpected secondary_tendency: %v", d.Content["secondary_tendency"])
	}
	top, ok := d.Content["top_tendencies"].([]any)
	if !ok {
		t.Fatalf("top_tendencies is not a list: %T", d.Content["top_tendencies"])
	}
	if len(top) != 3 {
		t.Fatalf("top_tendencies should be capped at 3, got %d", len(top))
	}
}

func TestTransform_AnnotatesQuestionsAndSearchableText(t *testing.T) {
	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(fullExtractionResults())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	for _, d := range drafts {
		if len(d.HypotheticalQuestions) == 0 {
			t.Fatalf("draft %s has no hypothetical questions", d.DocType)
		}
		if !strings.HasPrefix(d.SearchableText, d.SummaryText) {
			t.Fatalf("searchable text for %s should start with the summary", d.DocType)
		}
		for _, q := range d.HypotheticalQuestions {
			if !strings.Contains(d.SearchableText, q) {
				t.Fatalf("searchable text for %s missing question %q", d.DocType, q)
			}
		}
		if len(d.DataSources) == 0 {
			t.Fatalf("draft %s has no data sources", d.DocType)
		}
	}
}

func TestTransform_MissingDataFallsBackToTaggedMock(t *testing.T) {
	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(map[string]QueryResult{})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(drafts) != 7 {
		t.Fatalf("expected 7 fallback drafts, got %d", len(drafts))
	}
	for _, d := range drafts {
		if !d.IsFallback {
			t.Fatalf("draft %s should be tagged as fallback", d.DocType)
		}
		if len(d.DataSources) != 1 || d.DataSources[0] != "mock_data" {
			t.Fatalf("fallback draft %s should cite mock_data, got %v", d.DocType, d.DataSources)
		}
		if d.SummaryText == "" {
			t.Fatalf("fallback draft %s has empty summary", d.DocType)
		}
	}
}

func TestTransform_FailedQueryIsolatedToItsType(t *testing.T) {
	results := fullExtractionResults()
	results[QueryTendencyRanks] = QueryResult{Success: false, Error: "relation missing"}

	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(results)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	personality := draftByType(t, drafts, types.DocTypePersonalityProfile)
	if !personality.IsFallback {
		t.Fatalf("personality draft should degrade to fallback when its query failed")
	}

	profile := draftByType(t, drafts, types.DocTypeUserProfile)
	if profile.IsFallback {
		t.Fatalf("user profile draft should be unaffected by the tendency query failure")
	}
}

func TestTransform_StructuralErrorDegradesToFallback(t *testing.T) {
	results := fullExtractionResults()
	// name present but unusable
	results[QueryPersonalInfo] = QueryResult{Success: true, Rows: []map[string]any{
		{"name": "   ", "age": int64(30)},
	}}

	tr := NewDocumentTransformer(testLogger(t), true)
	drafts, err := tr.Transform(results)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	profile := draftByType(t, drafts, types.DocTypeUserProfile)
	if !profile.IsFallback {
		t.Fatalf("structurally broken rows should degrade to fallback")
	}
}

func TestTransform_FallbackDisabledSkipsMissingTypes(t *testing.T) {
	results := map[string]QueryResult{
		QueryPersonalInfo: fullExtractionResults()[QueryPersonalInfo],
	}
	tr := NewDocumentTransformer(testLogger(t), false)
	drafts, err := tr.Transform(results)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected only the user profile draft, got %d", len(drafts))
	}
	if drafts[0].DocType != types.DocTypeUserProfile {
		t.Fatalf("unexpected draft type %s", drafts[0].DocType)
	}
}

func TestHypotheticalQuestions_KeywordRouting(t *testing.T) {
	qs := hypotheticalQuestions("Personality tendency analysis: primary tendency Investigative.")
	if len(qs) == 0 {
		t.Fatalf("expected questions for tendency summary")
	}
	generic := hypotheticalQuestions("Something entirely unrelated to any rule.")
	if len(generic) == 0 {
		t.Fatalf("expected generic questions for unmatched summary")
	}
}

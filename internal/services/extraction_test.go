package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("init pgxmock: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// expectCatalogue registers one expectation per catalogue query, in order.
// override lets a test swap in a failure or custom rows for a single query.
func expectCatalogue(pool pgxmock.PgxPoolIface, recordID string, override map[string]func(pgxmock.PgxPoolIface)) {
	tables := []struct {
		name    string
		table   string
		columns []string
	}{
		{QueryPersonalInfo, "assessment_personal_info", []string{"name", "age", "gender", "education_level"}},
		{QueryTendencyRanks, "assessment_tendency_rank", []string{"tendency_name", "rank", "score"}},
		{QueryThinkingSkills, "assessment_thinking_skill", []string{"skill_name", "score", "percentile"}},
		{QueryCareerRecommendations, "assessment_career_recommendation", []string{"career_name", "match_score", "category"}},
		{QueryLearningStyle, "assessment_learning_style", []string{"style_name", "score", "description"}},
		{QueryCompetencies, "assessment_competency", []string{"competency_name", "score", "rank"}},
		{QueryPreferences, "assessment_preference", []string{"preference_name", "response_rate", "description"}},
	}
	for _, q := range tables {
		if fn, ok := override[q.name]; ok {
			fn(pool)
			continue
		}
		pool.ExpectQuery(q.table).
			WithArgs(recordID).
			WillReturnRows(pgxmock.NewRows(q.columns))
	}
}

func TestExtractionRun_RejectsBlankSourceRecord(t *testing.T) {
	svc := NewExtractionService(newMockPool(t), testLogger(t))
	_, err := svc.Run(context.Background(), "   ")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractionRun_MapsRowsByColumnName(t *testing.T) {
	pool := newMockPool(t)
	expectCatalogue(pool, "rec-1", map[string]func(pgxmock.PgxPoolIface){
		QueryPersonalInfo: func(p pgxmock.PgxPoolIface) {
			p.ExpectQuery("assessment_personal_info").
				WithArgs("rec-1").
				WillReturnRows(pgxmock.NewRows([]string{"name", "age", "gender", "education_level"}).
					AddRow("Lee Jiwoo", int64(27), "female", "graduate"))
		},
	})

	svc := NewExtractionService(pool, testLogger(t))
	results, err := svc.Run(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("expected 7 query results, got %d", len(results))
	}

	res := results[QueryPersonalInfo]
	if !res.Success {
		t.Fatalf("personal info query should succeed: %s", res.Error)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if row["name"] != "Lee Jiwoo" {
		t.Fatalf("unexpected name: %v", row["name"])
	}
	if row["age"] != int64(27) {
		t.Fatalf("unexpected age: %v", row["age"])
	}

	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExtractionRun_ZeroRowsIsStillSuccess(t *testing.T) {
	pool := newMockPool(t)
	expectCatalogue(pool, "rec-2", nil)

	svc := NewExtractionService(pool, testLogger(t))
	results, err := svc.Run(context.Background(), "rec-2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for name, res := range results {
		if !res.Success {
			t.Fatalf("query %s should succeed with zero rows: %s", name, res.Error)
		}
		if len(res.Rows) != 0 {
			t.Fatalf("query %s should have no rows", name)
		}
	}
}

func TestExtractionRun_QueryFailureIsIsolated(t *testing.T) {
	pool := newMockPool(t)
	expectCatalogue(pool, "rec-3", map[string]func(pgxmock.PgxPoolIface){
		QueryTendencyRanks: func(p pgxmock.PgxPoolIface) {
			p.ExpectQuery("assessment_tendency_rank").
				WithArgs("rec-3").
				WillReturnError(fmt.Errorf("relation does not exist"))
		},
	})

	svc := NewExtractionService(pool, testLogger(t))
	results, err := svc.Run(context.Background(), "rec-3")
	if err != nil {
		t.Fatalf("run should not abort on a single query failure: %v", err)
	}

	failed := results[QueryTendencyRanks]
	if failed.Success {
		t.Fatalf("tendency query should be marked failed")
	}
	if failed.Error == "" {
		t.Fatalf("failed query should carry its error message")
	}

	for _, name := range []string{QueryPersonalInfo, QueryThinkingSkills, QueryPreferences} {
		if !results[name].Success {
			t.Fatalf("query %s should be unaffected by the failure", name)
		}
	}
}

func TestExtractionRun_CancelledContextAborts(t *testing.T) {
	pool := newMockPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewExtractionService(pool, testLogger(t))
	_, err := svc.Run(ctx, "rec-4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

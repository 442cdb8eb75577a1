package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
)

// Query names in the extraction catalogue. The transformer keys off these.
const (
	QueryPersonalInfo          = "personal_info"
	QueryTendencyRanks         = "tendency_ranks"
	QueryThinkingSkills        = "thinking_skills"
	QueryCareerRecommendations = "career_recommendations"
	QueryLearningStyle         = "learning_style"
	QueryCompetencies          = "competencies"
	QueryPreferences           = "preferences"
)

// QueryResult is one named query's outcome. Zero rows with Success=true is a
// valid outcome and distinct from an execution failure.
type QueryResult struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Rows    []map[string]any `json:"rows"`
}

// LegacyQuerier is the subset of pgxpool.Pool the extraction tier needs.
// pgxpool acquires a connection per Query call and releases it when the
// returned rows are closed, which keeps extraction sessions scoped to a
// single query.
type LegacyQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type ExtractionService interface {
	Run(ctx context.Context, sourceRecordID string) (map[string]QueryResult, error)
}

type legacyQuery struct {
	name string
	sql  string
}

// The fixed catalogue of read queries against the legacy assessment schema.
// Every query takes the source record id as its only parameter and none of
// them mutates state.
var extractionCatalogue = []legacyQuery{
	{QueryPersonalInfo, `
		SELECT name, age, gender, education_level
		FROM assessment_personal_info
		WHERE record_id = $1`},
	{QueryTendencyRanks, `
		SELECT tendency_name, rank, score
		FROM assessment_tendency_rank
		WHERE record_id = $1
		ORDER BY rank ASC`},
	{QueryThinkingSkills, `
		SELECT skill_name, score, percentile
		FROM assessment_thinking_skill
		WHERE record_id = $1
		ORDER BY score DESC`},
	{QueryCareerRecommendations, `
		SELECT career_name, match_score, category
		FROM assessment_career_recommendation
		WHERE record_id = $1
		ORDER BY match_score DESC`},
	{QueryLearningStyle, `
		SELECT style_name, score, description
		FROM assessment_learning_style
		WHERE record_id = $1
		ORDER BY score DESC`},
	{QueryCompetencies, `
		SELECT competency_name, score, rank
		FROM assessment_competency
		WHERE record_id = $1
		ORDER BY rank ASC`},
	{QueryPreferences, `
		SELECT preference_name, response_rate, description
		FROM assessment_preference
		WHERE record_id = $1
		ORDER BY response_rate DESC`},
}

type extractionService struct {
	pool LegacyQuerier
	log  *logger.Logger
}

func NewExtractionService(pool LegacyQuerier, baseLog *logger.Logger) ExtractionService {
	return &extractionService{pool: pool, log: baseLog.With("service", "ExtractionService")}
}

// Run executes every catalogue query for one source record. Individual query
// failures are captured in the result map without aborting the others; only
// context cancellation aborts the run.
func (s *extractionService) Run(ctx context.Context, sourceRecordID string) (map[string]QueryResult, error) {
	sourceRecordID = strings.TrimSpace(sourceRecordID)
	if sourceRecordID == "" {
		return nil, fmt.Errorf("%w: missing source record id", ErrValidation)
	}

	results := make(map[string]QueryResult, len(extractionCatalogue))
	for _, q := range extractionCatalogue {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		rows, err := s.runQuery(ctx, q, sourceRecordID)
		if err != nil {
			s.log.Warn("Legacy query failed", "query", q.name, "source_record_id", sourceRecordID, "error", err)
			results[q.name] = QueryResult{Success: false, Error: err.Error()}
			continue
		}
		results[q.name] = QueryResult{Success: true, Rows: rows}
	}
	return results, nil
}

// runQuery holds a connection only for the duration of one query; rows.Close
// runs on every exit path so the connection always returns to the pool.
func (s *extractionService) runQuery(ctx context.Context, q legacyQuery, sourceRecordID string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, q.sql, sourceRecordID)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", q.name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.name, err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			if i < len(values) {
				row[fd.Name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.name, err)
	}
	return out, nil
}

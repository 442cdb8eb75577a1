package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/cache"
	"github.com/talentwise/assessment-rag-backend/internal/config"
	"github.com/talentwise/assessment-rag-backend/internal/repos"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// fakeJobRepo keeps jobs in memory and applies UpdateFields the way the
// database would.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.ETLJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*types.ETLJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.ETLJob) ([]*types.ETLJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range jobs {
		cp := *j
		f.jobs[j.ID] = &cp
	}
	return jobs, nil
}

func (f *fakeJobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ETLJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ETLJob
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) GetLatestBySource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (*types.ETLJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.ETLJob
	for _, j := range f.jobs {
		if j.OwnerUserID != ownerID || j.SourceRecordID != sourceRecordID {
			continue
		}
		if latest == nil || j.StartedAt.After(latest.StartedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "current_step":
			j.CurrentStep = v.(string)
		case "progress":
			j.Progress = v.(int)
		case "completed_steps":
			j.CompletedSteps = v.(int)
		case "retry_count":
			j.RetryCount = v.(int)
		case "error_message":
			j.ErrorMessage = v.(string)
		case "error_type":
			j.ErrorType = v.(string)
		case "failed_stage":
			j.FailedStage = v.(string)
		case "documents_created":
			j.DocumentsCreated = v.(datatypes.JSON)
		case "completed_at":
			t := v.(time.Time)
			j.CompletedAt = &t
		case "updated_at":
			j.UpdatedAt = v.(time.Time)
		}
	}
	return nil
}

func (f *fakeJobRepo) HasActiveForSource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.OwnerUserID == ownerID && j.SourceRecordID == sourceRecordID && !j.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeJobRepo) ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) ([]*types.ETLJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ETLJob
	for _, j := range f.jobs {
		if !j.IsTerminal() && j.UpdatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) FailStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, j := range f.jobs {
		if !j.IsTerminal() && j.UpdatedAt.Before(olderThan) {
			j.Status = types.JobStatusFailed
			j.ErrorType = types.ErrorTypeTimeout
			j.CompletedAt = &now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeJobRepo) hasActiveLocked(ownerID uuid.UUID, sourceRecordID string) bool {
	for _, j := range f.jobs {
		if j.OwnerUserID == ownerID && j.SourceRecordID == sourceRecordID && !j.IsTerminal() {
			return true
		}
	}
	return false
}

var _ repos.ETLJobRepo = (*fakeJobRepo)(nil)

// racingJobRepo models the window where two starts pass the active check
// before either insert lands: the check always reports no active job, while
// Create enforces the partial unique index.
type racingJobRepo struct {
	*fakeJobRepo
}

func (r *racingJobRepo) HasActiveForSource(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, sourceRecordID string) (bool, error) {
	return false, nil
}

func (r *racingJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.ETLJob) ([]*types.ETLJob, error) {
	r.mu.Lock()
	for _, j := range jobs {
		if !j.IsTerminal() && r.hasActiveLocked(j.OwnerUserID, j.SourceRecordID) {
			r.mu.Unlock()
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: "idx_etl_job_active_source"}
		}
	}
	r.mu.Unlock()
	return r.fakeJobRepo.Create(ctx, tx, jobs)
}

// fakeDocumentService stores documents per owner without a database.
type fakeDocumentService struct {
	mu       sync.Mutex
	byOwner  map[uuid.UUID][]*types.Document
	replaces int
}

func newFakeDocumentService() *fakeDocumentService {
	return &fakeDocumentService{byOwner: map[uuid.UUID][]*types.Document{}}
}

func (f *fakeDocumentService) Create(ctx context.Context, doc *types.Document) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byOwner[doc.OwnerUserID] = append(f.byOwner[doc.OwnerUserID], doc)
	return doc, nil
}

func (f *fakeDocumentService) GetByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, docs := range f.byOwner {
		for _, d := range docs {
			if d.ID == id {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
}

func (f *fakeDocumentService) ListByOwner(ctx context.Context, ownerID uuid.UUID, docTypes []string, limit, offset int) ([]*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byOwner[ownerID], nil
}

func (f *fakeDocumentService) Update(ctx context.Context, id uuid.UUID, update DocumentUpdate) (*types.Document, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeDocumentService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, fmt.Errorf("not implemented")
}

func (f *fakeDocumentService) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.byOwner[ownerID])), nil
}

func (f *fakeDocumentService) ReplaceForOwner(ctx context.Context, ownerID uuid.UUID, docs []*types.Document) ([]*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byOwner[ownerID] = docs
	f.replaces++
	return docs, nil
}

func (f *fakeDocumentService) CacheStats() cache.Stats {
	return cache.Stats{}
}

var _ DocumentService = (*fakeDocumentService)(nil)

// fakeExtraction returns canned results or fails a fixed number of times.
type fakeExtraction struct {
	results   map[string]QueryResult
	failTimes int
	calls     int
}

func (f *fakeExtraction) Run(ctx context.Context, sourceRecordID string) (map[string]QueryResult, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, fmt.Errorf("legacy database unreachable")
	}
	return f.results, nil
}

// fakeEmbedder returns unit basis vectors, or placeholders with
// ErrEmbeddingUnavailable when down.
type fakeEmbedder struct {
	down  bool
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = make([]float32, types.EmbeddingDimension)
		if !f.down {
			out[i][i%types.EmbeddingDimension] = 1
		}
	}
	if f.down {
		return out, fmt.Errorf("%w: connection refused", ErrEmbeddingUnavailable)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int {
	return types.EmbeddingDimension
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxRetries:        1,
		RetryDelaySecs:    0,
		StaleJobSecs:      300,
		FallbackDocuments: true,
		EmbedBatchSize:    3,
	}
}

func newTestETL(t *testing.T, jobRepo repos.ETLJobRepo, docs DocumentService, ex ExtractionService, em EmbeddingClient) ETLService {
	t.Helper()
	tr := NewDocumentTransformer(testLogger(t), true)
	return NewETLService(testLogger(t), jobRepo, docs, ex, tr, em, testPipelineConfig())
}

func TestStartJob_CompletesWithFullTypeCoverage(t *testing.T) {
	jobRepo := newFakeJobRepo()
	docService := newFakeDocumentService()
	svc := newTestETL(t, jobRepo, docService, &fakeExtraction{results: fullExtractionResults()}, &fakeEmbedder{})
	owner := uuid.New()

	job, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Progress != 100 || job.CompletedSteps != job.TotalSteps {
		t.Fatalf("completed job should report full progress, got %d%% %d/%d",
			job.Progress, job.CompletedSteps, job.TotalSteps)
	}
	if job.CompletedAt == nil {
		t.Fatalf("completed job must carry completed_at")
	}

	var created []string
	if err := json.Unmarshal(job.DocumentsCreated, &created); err != nil {
		t.Fatalf("decode documents_created: %v", err)
	}
	if len(created) != 7 {
		t.Fatalf("expected 7 created doc types, got %v", created)
	}

	docs, _ := docService.ListByOwner(context.Background(), owner, nil, 0, 0)
	if len(docs) != 7 {
		t.Fatalf("expected 7 stored documents, got %d", len(docs))
	}
	for _, d := range docs {
		meta, err := d.MetadataMap()
		if err != nil {
			t.Fatalf("metadata: %v", err)
		}
		if _, ok := meta[types.MetaSearchableText]; !ok {
			t.Fatalf("document %s missing searchable text metadata", d.DocType)
		}
		if _, ok := meta[types.MetaHypotheticalQuestions]; !ok {
			t.Fatalf("document %s missing hypothetical questions", d.DocType)
		}
		if _, ok := meta[types.MetaPlaceholderEmbedding]; ok {
			t.Fatalf("document %s should not be labeled placeholder", d.DocType)
		}
	}
}

func TestStartJob_ValidatesInput(t *testing.T) {
	svc := newTestETL(t, newFakeJobRepo(), newFakeDocumentService(), &fakeExtraction{}, &fakeEmbedder{})
	ctx := context.Background()

	if _, err := svc.StartJob(ctx, uuid.Nil, "rec-001", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for nil owner, got %v", err)
	}
	if _, err := svc.StartJob(ctx, uuid.New(), "   ", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank source record, got %v", err)
	}
}

func TestStartJob_RejectsConcurrentJobForSameSource(t *testing.T) {
	jobRepo := newFakeJobRepo()
	owner := uuid.New()
	jobRepo.jobs[uuid.New()] = &types.ETLJob{
		ID:             uuid.New(),
		OwnerUserID:    owner,
		SourceRecordID: "rec-001",
		Status:         types.JobStatusProcessingQueries,
	}
	svc := newTestETL(t, jobRepo, newFakeDocumentService(), &fakeExtraction{results: fullExtractionResults()}, &fakeEmbedder{})

	_, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for active job, got %v", err)
	}
}

func TestStartJob_LostCheckRaceStillConflictsOnInsert(t *testing.T) {
	base := newFakeJobRepo()
	owner := uuid.New()
	active := &types.ETLJob{
		ID:             uuid.New(),
		OwnerUserID:    owner,
		SourceRecordID: "rec-001",
		Status:         types.JobStatusProcessingQueries,
	}
	base.jobs[active.ID] = active

	svc := newTestETL(t, &racingJobRepo{fakeJobRepo: base}, newFakeDocumentService(), &fakeExtraction{results: fullExtractionResults()}, &fakeEmbedder{})

	_, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("unique violation on insert must surface as conflict, got %v", err)
	}
}

func TestStartJob_RequiresForceWhenDocumentsExist(t *testing.T) {
	docService := newFakeDocumentService()
	owner := uuid.New()
	docService.byOwner[owner] = []*types.Document{{ID: uuid.New(), OwnerUserID: owner}}

	svc := newTestETL(t, newFakeJobRepo(), docService, &fakeExtraction{results: fullExtractionResults()}, &fakeEmbedder{})

	_, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict without force, got %v", err)
	}

	job, err := svc.StartJob(context.Background(), owner, "rec-001", true)
	if err != nil {
		t.Fatalf("forced job: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("forced job should complete, got %s", job.Status)
	}
	docs, _ := docService.ListByOwner(context.Background(), owner, nil, 0, 0)
	if len(docs) != 7 {
		t.Fatalf("force reprocess should replace the document set, got %d", len(docs))
	}
	if docService.replaces != 1 {
		t.Fatalf("documents must be swapped via a single replace, got %d", docService.replaces)
	}
}

func TestStartJob_RetriesExtractionThenSucceeds(t *testing.T) {
	jobRepo := newFakeJobRepo()
	ex := &fakeExtraction{results: fullExtractionResults(), failTimes: 1}
	svc := newTestETL(t, jobRepo, newFakeDocumentService(), ex, &fakeEmbedder{})

	job, err := svc.StartJob(context.Background(), uuid.New(), "rec-001", false)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed after retry, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if ex.calls != 2 {
		t.Fatalf("expected 2 extraction attempts, got %d", ex.calls)
	}
	if job.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", job.RetryCount)
	}
}

func TestStartJob_ExhaustedRetriesFailExtractionStage(t *testing.T) {
	jobRepo := newFakeJobRepo()
	ex := &fakeExtraction{failTimes: 10}
	svc := newTestETL(t, jobRepo, newFakeDocumentService(), ex, &fakeEmbedder{})

	job, err := svc.StartJob(context.Background(), uuid.New(), "rec-001", false)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != types.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if job.FailedStage != types.StageExtraction {
		t.Fatalf("expected failed_stage=extraction, got %s", job.FailedStage)
	}
	if job.ErrorType != types.ErrorTypeExtraction {
		t.Fatalf("expected extraction_error, got %s", job.ErrorType)
	}
	if job.CompletedAt == nil {
		t.Fatalf("failed job must carry completed_at")
	}
	// MaxRetries=1 means 2 attempts.
	if ex.calls != 2 {
		t.Fatalf("expected 2 extraction attempts, got %d", ex.calls)
	}
}

func TestStartJob_EmbeddingOutageCompletesWithPlaceholders(t *testing.T) {
	docService := newFakeDocumentService()
	svc := newTestETL(t, newFakeJobRepo(), docService, &fakeExtraction{results: fullExtractionResults()}, &fakeEmbedder{down: true})
	owner := uuid.New()

	job, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("embedding outage should not fail the job, got %s (%s)", job.Status, job.ErrorMessage)
	}

	docs, _ := docService.ListByOwner(context.Background(), owner, nil, 0, 0)
	for _, d := range docs {
		meta, err := d.MetadataMap()
		if err != nil {
			t.Fatalf("metadata: %v", err)
		}
		if meta[types.MetaPlaceholderEmbedding] != true {
			t.Fatalf("document %s should be labeled placeholder_embedding", d.DocType)
		}
		vec, err := d.EmbeddingVector()
		if err != nil {
			t.Fatalf("embedding: %v", err)
		}
		if !IsZeroVector(vec) {
			t.Fatalf("document %s should carry the zero sentinel", d.DocType)
		}
	}
}

func TestStartJob_MissingSourceDataFallsBack(t *testing.T) {
	docService := newFakeDocumentService()
	// All queries succeed but return nothing.
	empty := map[string]QueryResult{}
	for _, name := range []string{QueryPersonalInfo, QueryTendencyRanks, QueryThinkingSkills,
		QueryCareerRecommendations, QueryLearningStyle, QueryCompetencies, QueryPreferences} {
		empty[name] = QueryResult{Success: true, Rows: nil}
	}
	svc := newTestETL(t, newFakeJobRepo(), docService, &fakeExtraction{results: empty}, &fakeEmbedder{})
	owner := uuid.New()

	job, err := svc.StartJob(context.Background(), owner, "rec-001", false)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", job.Status, job.ErrorMessage)
	}
	docs, _ := docService.ListByOwner(context.Background(), owner, nil, 0, 0)
	if len(docs) != 7 {
		t.Fatalf("fallback should keep full type coverage, got %d", len(docs))
	}
	for _, d := range docs {
		meta, _ := d.MetadataMap()
		if meta[types.MetaIsFallback] != true {
			t.Fatalf("document %s should be tagged as fallback", d.DocType)
		}
	}
}

func TestStartJob_EmbedsInBatches(t *testing.T) {
	em := &fakeEmbedder{}
	svc := newTestETL(t, newFakeJobRepo(), newFakeDocumentService(), &fakeExtraction{results: fullExtractionResults()}, em)

	if _, err := svc.StartJob(context.Background(), uuid.New(), "rec-001", false); err != nil {
		t.Fatalf("start job: %v", err)
	}
	// 7 drafts at batch size 3 is 3 calls.
	if em.calls != 3 {
		t.Fatalf("expected 3 embedding batches, got %d", em.calls)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	svc := newTestETL(t, newFakeJobRepo(), newFakeDocumentService(), &fakeExtraction{}, &fakeEmbedder{})
	_, err := svc.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsureReady(t *testing.T) {
	docService := newFakeDocumentService()
	svc := newTestETL(t, newFakeJobRepo(), docService, &fakeExtraction{}, &fakeEmbedder{})
	owner := uuid.New()

	if err := svc.EnsureReady(context.Background(), owner); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready for empty owner, got %v", err)
	}

	docService.byOwner[owner] = []*types.Document{{ID: uuid.New(), OwnerUserID: owner}}
	if err := svc.EnsureReady(context.Background(), owner); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	jobRepo := newFakeJobRepo()
	stale := &types.ETLJob{
		ID:             uuid.New(),
		OwnerUserID:    uuid.New(),
		SourceRecordID: "rec-stale",
		Status:         types.JobStatusProcessingQueries,
		UpdatedAt:      time.Now().UTC().Add(-time.Hour),
	}
	fresh := &types.ETLJob{
		ID:             uuid.New(),
		OwnerUserID:    uuid.New(),
		SourceRecordID: "rec-fresh",
		Status:         types.JobStatusProcessingQueries,
		UpdatedAt:      time.Now().UTC(),
	}
	jobRepo.jobs[stale.ID] = stale
	jobRepo.jobs[fresh.ID] = fresh

	svc := newTestETL(t, jobRepo, newFakeDocumentService(), &fakeExtraction{}, &fakeEmbedder{})
	n, err := svc.ReclaimStaleJobs(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", n)
	}

	got, err := svc.GetJob(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("get stale job: %v", err)
	}
	if got.Status != types.JobStatusFailed || got.ErrorType != types.ErrorTypeTimeout {
		t.Fatalf("stale job should be failed/timeout, got %s/%s", got.Status, got.ErrorType)
	}

	if j, _ := svc.GetJob(context.Background(), fresh.ID); j.Status != types.JobStatusProcessingQueries {
		t.Fatalf("fresh job must be untouched")
	}
}

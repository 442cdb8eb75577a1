package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"

	"github.com/talentwise/assessment-rag-backend/internal/config"
	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/repos"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

const totalPipelineSteps = 4

// ETLService owns the job state machine:
//
//	pending -> processing_queries -> transforming_documents -> completed | failed
//
// Each stage acquires its own resources and releases them at the stage
// boundary; the extraction tier holds a legacy connection only per query and
// the storage stage runs inside a single transaction.
type ETLService interface {
	StartJob(ctx context.Context, ownerID uuid.UUID, sourceRecordID string, force bool) (*types.ETLJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.ETLJob, error)
	EnsureReady(ctx context.Context, ownerID uuid.UUID) error
	ReclaimStaleJobs(ctx context.Context) (int64, error)
	StartReclaimLoop(ctx context.Context)
}

type etlService struct {
	log         *logger.Logger
	jobRepo     repos.ETLJobRepo
	docService  DocumentService
	extraction  ExtractionService
	transformer TransformerService
	embedder    EmbeddingClient
	cfg         config.PipelineConfig
}

func NewETLService(
	baseLog *logger.Logger,
	jobRepo repos.ETLJobRepo,
	docService DocumentService,
	extraction ExtractionService,
	transformer TransformerService,
	embedder EmbeddingClient,
	cfg config.PipelineConfig,
) ETLService {
	return &etlService{
		log:         baseLog.With("service", "ETLService"),
		jobRepo:     jobRepo,
		docService:  docService,
		extraction:  extraction,
		transformer: transformer,
		embedder:    embedder,
		cfg:         cfg,
	}
}

// StartJob creates the job record and runs the pipeline to a terminal state.
// A second job for the same (owner, source record) is rejected while one is
// active, and reprocessing an already populated subject requires force.
func (s *etlService) StartJob(ctx context.Context, ownerID uuid.UUID, sourceRecordID string, force bool) (*types.ETLJob, error) {
	sourceRecordID = strings.TrimSpace(sourceRecordID)
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	if sourceRecordID == "" {
		return nil, fmt.Errorf("%w: missing source record id", ErrValidation)
	}

	active, err := s.jobRepo.HasActiveForSource(ctx, nil, ownerID, sourceRecordID)
	if err != nil {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	if active {
		return nil, fmt.Errorf("%w: a job is already running for this source record", ErrConflict)
	}

	existing, err := s.docService.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count existing documents: %w", err)
	}
	if existing > 0 && !force {
		return nil, fmt.Errorf("%w: subject already has %d documents; supply force to reprocess", ErrConflict, existing)
	}

	now := time.Now().UTC()
	job := &types.ETLJob{
		ID:               uuid.New(),
		OwnerUserID:      ownerID,
		SourceRecordID:   sourceRecordID,
		Status:           types.JobStatusPending,
		CurrentStep:      "created",
		TotalSteps:       totalPipelineSteps,
		DocumentsCreated: datatypes.JSON([]byte(`[]`)),
		StartedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.jobRepo.Create(ctx, nil, []*types.ETLJob{job}); err != nil {
		// The partial unique index on active (owner, source record) pairs
		// catches the race where two starts pass the check concurrently.
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a job is already running for this source record", ErrConflict)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.runJob(ctx, job)
	return s.GetJob(ctx, job.ID)
}

func (s *etlService) runJob(ctx context.Context, job *types.ETLJob) {
	jobID := job.ID
	ownerID := job.OwnerUserID

	fail := func(stage, errType string, err error) {
		now := time.Now().UTC()
		s.log.Error("Job failed", "job_id", jobID, "stage", stage, "error_type", errType, "error", err)
		if uerr := s.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
			"status":        types.JobStatusFailed,
			"failed_stage":  stage,
			"error_type":    errType,
			"error_message": err.Error(),
			"completed_at":  now,
			"updated_at":    now,
		}); uerr != nil {
			s.log.Error("Failed to persist job failure", "job_id", jobID, "error", uerr)
		}
	}

	progress := func(status, step string, pct, completedSteps int) {
		if uerr := s.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
			"status":          status,
			"current_step":    step,
			"progress":        pct,
			"completed_steps": completedSteps,
			"updated_at":      time.Now().UTC(),
		}); uerr != nil {
			s.log.Warn("Failed to persist job progress", "job_id", jobID, "step", step, "error", uerr)
		}
	}

	// Stage 1: extraction, with retries for recoverable failures.
	progress(types.JobStatusProcessingQueries, types.StageExtraction, 10, 0)
	results, err := s.extractWithRetries(ctx, jobID, job.SourceRecordID)
	if err != nil {
		fail(types.StageExtraction, classifyError(types.StageExtraction, err), err)
		return
	}

	// Per-query failures are already recorded inside results; the stage
	// boundary is reached regardless.
	progress(types.JobStatusTransformingDocuments, types.StageTransformation, 30, 1)

	drafts, err := s.transformer.Transform(results)
	if err != nil {
		fail(types.StageTransformation, classifyError(types.StageTransformation, err), err)
		return
	}
	if len(drafts) == 0 {
		fail(types.StageTransformation, types.ErrorTypeTransform, fmt.Errorf("no document drafts produced"))
		return
	}

	// Stage 3: embedding.
	progress(types.JobStatusTransformingDocuments, types.StageEmbedding, 60, 2)
	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.SearchableText
	}
	vectors, err := s.embedBatches(ctx, texts)
	if err != nil {
		if !errors.Is(err, ErrEmbeddingUnavailable) {
			fail(types.StageEmbedding, classifyError(types.StageEmbedding, err), err)
			return
		}
		s.log.Warn("Embedding service unavailable; unembedded documents will carry placeholder vectors", "job_id", jobID)
	}

	// Stage 4: storage. Delete-then-insert runs inside one transaction so no
	// reader observes a partial mix of generations.
	progress(types.JobStatusTransformingDocuments, types.StageStorage, 80, 3)
	docs := make([]*types.Document, 0, len(drafts))
	for i, draft := range drafts {
		doc, err := draftToDocument(ownerID, draft, vectors[i])
		if err != nil {
			fail(types.StageStorage, types.ErrorTypeValidation, err)
			return
		}
		docs = append(docs, doc)
	}
	if _, err := s.docService.ReplaceForOwner(ctx, ownerID, docs); err != nil {
		fail(types.StageStorage, classifyError(types.StageStorage, err), err)
		return
	}

	created := distinctDocTypes(docs)
	createdJSON, _ := json.Marshal(created)
	now := time.Now().UTC()
	if uerr := s.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
		"status":            types.JobStatusCompleted,
		"current_step":      "completed",
		"progress":          100,
		"completed_steps":   totalPipelineSteps,
		"documents_created": datatypes.JSON(createdJSON),
		"completed_at":      now,
		"updated_at":        now,
	}); uerr != nil {
		s.log.Error("Failed to persist job completion", "job_id", jobID, "error", uerr)
	}
	s.log.Info("Job completed", "job_id", jobID, "documents_created", len(docs))
}

// extractWithRetries retries connection-level extraction failures with a
// fixed delay, persisting the retry counter on each attempt.
func (s *etlService) extractWithRetries(ctx context.Context, jobID uuid.UUID, sourceRecordID string) (map[string]QueryResult, error) {
	var lastErr error
	attempts := s.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if uerr := s.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
				"retry_count": attempt,
				"updated_at":  time.Now().UTC(),
			}); uerr != nil {
				s.log.Warn("Failed to persist retry count", "job_id", jobID, "error", uerr)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay()):
			}
		}
		results, err := s.extraction.Run(ctx, sourceRecordID)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		s.log.Warn("Extraction attempt failed", "job_id", jobID, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("extraction failed after %d attempts: %w", attempts, lastErr)
}

func (s *etlService) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := s.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			// Unavailable still yields usable placeholder vectors.
			if errors.Is(err, ErrEmbeddingUnavailable) {
				out = append(out, vecs...)
				for len(out) < len(texts) {
					out = append(out, make([]float32, s.embedder.Dimension()))
				}
				return out, err
			}
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func draftToDocument(ownerID uuid.UUID, draft *types.DocumentDraft, vector []float32) (*types.Document, error) {
	doc := &types.Document{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		DocType:     draft.DocType,
		SummaryText: draft.SummaryText,
	}
	if err := doc.SetContentMap(draft.Content); err != nil {
		return nil, err
	}
	if err := doc.SetEmbeddingVector(vector); err != nil {
		return nil, err
	}
	meta := map[string]any{
		types.MetaVersionCount:          0,
		types.MetaHypotheticalQuestions: draft.HypotheticalQuestions,
		types.MetaSearchableText:        draft.SearchableText,
		types.MetaDataSources:           draft.DataSources,
	}
	if draft.IsFallback {
		meta[types.MetaIsFallback] = true
	}
	if IsZeroVector(vector) {
		meta[types.MetaPlaceholderEmbedding] = true
	}
	if err := doc.SetMetadataMap(meta); err != nil {
		return nil, err
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func distinctDocTypes(docs []*types.Document) []string {
	seen := make(map[string]bool, len(docs))
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if seen[d.DocType] {
			continue
		}
		seen[d.DocType] = true
		out = append(out, d.DocType)
	}
	sort.Strings(out)
	return out
}

func classifyError(stage string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.ErrorTypeTimeout
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return types.ErrorTypeValidation
	}
	switch stage {
	case types.StageExtraction:
		return types.ErrorTypeExtraction
	case types.StageTransformation:
		return types.ErrorTypeTransform
	case types.StageEmbedding:
		return types.ErrorTypeEmbedding
	default:
		return types.ErrorTypeStorage
	}
}

func (s *etlService) GetJob(ctx context.Context, jobID uuid.UUID) (*types.ETLJob, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing job id", ErrValidation)
	}
	rows, err := s.jobRepo.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return rows[0], nil
}

// EnsureReady reports ErrNotReady for subjects whose document set has not
// been populated yet, so callers can surface an explicit "not ready" signal
// instead of an empty result.
func (s *etlService) EnsureReady(ctx context.Context, ownerID uuid.UUID) error {
	count, err := s.docService.CountByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: no documents for owner %s", ErrNotReady, ownerID)
	}
	return nil
}

// ReclaimStaleJobs transitions jobs stuck in a non-terminal status past the
// staleness window to failed with error_type=timeout. It operates purely on
// persisted job state and is safe to run from any process.
func (s *etlService) ReclaimStaleJobs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleJobWindow())
	stale, err := s.jobRepo.ListStale(ctx, nil, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	for _, j := range stale {
		s.log.Warn("Reclaiming stale job", "job_id", j.ID, "status", j.Status, "last_update", j.UpdatedAt)
	}
	n, err := s.jobRepo.FailStale(ctx, nil, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return n, nil
}

// StartReclaimLoop runs ReclaimStaleJobs on a schedule until ctx is done.
func (s *etlService) StartReclaimLoop(ctx context.Context) {
	interval := s.cfg.StaleJobWindow() / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReclaimStaleJobs(ctx); err != nil {
					s.log.Warn("Stale job reclaim failed", "error", err)
				}
			}
		}
	}()
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/talentwise/assessment-rag-backend/internal/config"
	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/repos"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// SearchResult pairs a document with its distance to the query vector and
// the similarity score derived from it.
type SearchResult struct {
	Document   *types.Document `json:"document"`
	Distance   float64         `json:"distance"`
	Similarity float64         `json:"similarity_score"`
}

type RetrievalService interface {
	Search(ctx context.Context, ownerID uuid.UUID, queryVector []float32, limit int, threshold float64, docTypes []string) ([]SearchResult, error)
	MultiTypeSearch(ctx context.Context, ownerID uuid.UUID, queryVector []float32, docTypes []string, perTypeLimit int, threshold float64) (map[string][]SearchResult, error)
	GetSimilarDocuments(ctx context.Context, sourceID uuid.UUID, limit int) ([]SearchResult, error)
}

type retrievalService struct {
	log        *logger.Logger
	docRepo    repos.DocumentRepo
	metricRepo repos.SearchMetricRepo
	defaults   config.RetrievalConfig
}

func NewRetrievalService(
	baseLog *logger.Logger,
	docRepo repos.DocumentRepo,
	metricRepo repos.SearchMetricRepo,
	defaults config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		log:        baseLog.With("service", "RetrievalService"),
		docRepo:    docRepo,
		metricRepo: metricRepo,
		defaults:   defaults,
	}
}

// Search ranks the owner's documents by ascending L2 distance to the query
// vector. Stored vectors are unit length, so this ordering matches cosine
// ranking. Documents carrying the zero-vector placeholder are skipped. Pass
// a negative threshold to fall back to the configured default cutoff.
func (s *retrievalService) Search(ctx context.Context, ownerID uuid.UUID, queryVector []float32, limit int, threshold float64, docTypes []string) ([]SearchResult, error) {
	results, _, err := s.search(ctx, ownerID, queryVector, limit, threshold, docTypes, uuid.Nil)
	return results, err
}

func (s *retrievalService) search(ctx context.Context, ownerID uuid.UUID, queryVector []float32, limit int, threshold float64, docTypes []string, excludeID uuid.UUID) ([]SearchResult, int, error) {
	if ownerID == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	if len(queryVector) != types.EmbeddingDimension {
		return nil, 0, fmt.Errorf("%w: query vector must have length %d, got %d", ErrValidation, types.EmbeddingDimension, len(queryVector))
	}
	if threshold > 1 {
		return nil, 0, fmt.Errorf("%w: similarity threshold must not exceed 1", ErrValidation)
	}
	// A negative threshold means "use the configured default"; zero disables
	// the cutoff entirely.
	if threshold < 0 {
		threshold = s.defaults.SimilarityThreshold
	}
	for _, dt := range docTypes {
		if !types.IsValidDocType(dt) {
			return nil, 0, fmt.Errorf("%w: invalid doc_type %q", ErrValidation, dt)
		}
	}
	if limit <= 0 {
		limit = s.defaults.DefaultLimit
	}

	start := time.Now()
	candidates, err := s.docRepo.GetWithEmbeddingsByOwner(ctx, nil, ownerID, docTypes)
	if err != nil {
		return nil, 0, fmt.Errorf("load candidate documents: %w", err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, doc := range candidates {
		if doc == nil || doc.ID == excludeID {
			continue
		}
		vec, err := doc.EmbeddingVector()
		if err != nil {
			s.log.Warn("Skipping document with undecodable embedding", "document_id", doc.ID, "error", err)
			continue
		}
		if len(vec) != len(queryVector) || IsZeroVector(vec) {
			continue
		}
		dist := l2Distance(queryVector, vec)
		sim := similarityFromDistance(dist)
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{Document: doc, Distance: dist, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Document.ID.String() < results[j].Document.ID.String()
	})
	if len(results) > limit {
		results = results[:limit]
	}

	s.recordMetric(ctx, ownerID, docTypes, time.Since(start), len(candidates), len(results), threshold)
	return results, len(candidates), nil
}

// MultiTypeSearch fans the same query vector out across the given types,
// each with its own limit, and returns per-type ranked slices.
func (s *retrievalService) MultiTypeSearch(ctx context.Context, ownerID uuid.UUID, queryVector []float32, docTypes []string, perTypeLimit int, threshold float64) (map[string][]SearchResult, error) {
	if len(docTypes) == 0 {
		docTypes = types.DocTypes()
	}
	for _, dt := range docTypes {
		if !types.IsValidDocType(dt) {
			return nil, fmt.Errorf("%w: invalid doc_type %q", ErrValidation, dt)
		}
	}

	var mu sync.Mutex
	out := make(map[string][]SearchResult, len(docTypes))

	g, gctx := errgroup.WithContext(ctx)
	for _, dt := range docTypes {
		docType := dt
		g.Go(func() error {
			results, _, err := s.search(gctx, ownerID, queryVector, perTypeLimit, threshold, []string{docType}, uuid.Nil)
			if err != nil {
				return fmt.Errorf("search %s: %w", docType, err)
			}
			mu.Lock()
			out[docType] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSimilarDocuments ranks by the source document's own stored vector and
// excludes the source from its results.
func (s *retrievalService) GetSimilarDocuments(ctx context.Context, sourceID uuid.UUID, limit int) ([]SearchResult, error) {
	if sourceID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing source document id", ErrValidation)
	}
	rows, err := s.docRepo.GetByIDs(ctx, nil, []uuid.UUID{sourceID})
	if err != nil {
		return nil, fmt.Errorf("load source document: %w", err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, sourceID)
	}
	source := rows[0]
	vec, err := source.EmbeddingVector()
	if err != nil {
		return nil, fmt.Errorf("decode source embedding: %w", err)
	}
	if IsZeroVector(vec) {
		return nil, fmt.Errorf("%w: source document has a placeholder embedding", ErrValidation)
	}
	results, _, err := s.search(ctx, source.OwnerUserID, vec, limit, 0, nil, sourceID)
	return results, err
}

func (s *retrievalService) recordMetric(ctx context.Context, ownerID uuid.UUID, docTypes []string, latency time.Duration, considered, returned int, threshold float64) {
	metric := &types.SearchMetric{
		ID:                  uuid.New(),
		OwnerUserID:         ownerID,
		LatencyMs:           latency.Milliseconds(),
		DocumentsConsidered: considered,
		ResultsReturned:     returned,
		SimilarityThreshold: threshold,
		CreatedAt:           time.Now().UTC(),
	}
	if docTypes == nil {
		docTypes = []string{}
	}
	if b, err := json.Marshal(docTypes); err == nil {
		metric.DocTypes = datatypes.JSON(b)
	}
	if _, err := s.metricRepo.Create(ctx, nil, []*types.SearchMetric{metric}); err != nil {
		s.log.Warn("Failed to record search metric", "owner_user_id", ownerID, "error", err)
	}
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// similarityFromDistance maps distance monotonically into (0,1]; identical
// vectors score 1.
func similarityFromDistance(dist float64) float64 {
	return 1.0 / (1.0 + dist)
}

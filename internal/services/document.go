package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/cache"
	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/repos"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// DocumentUpdate carries the fields an update may change. Nil fields are
// left untouched.
type DocumentUpdate struct {
	Content     map[string]any
	SummaryText *string
	Embedding   []float32
	Metadata    map[string]any
}

type DocumentService interface {
	Create(ctx context.Context, doc *types.Document) (*types.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, docTypes []string, limit, offset int) ([]*types.Document, error)
	Update(ctx context.Context, id uuid.UUID, update DocumentUpdate) (*types.Document, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	ReplaceForOwner(ctx context.Context, ownerID uuid.UUID, docs []*types.Document) ([]*types.Document, error)
	CacheStats() cache.Stats
}

type documentService struct {
	db       *gorm.DB
	log      *logger.Logger
	docRepo  repos.DocumentRepo
	userRepo repos.UserRepo
	cache    *cache.DocumentCache
}

func NewDocumentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docRepo repos.DocumentRepo,
	userRepo repos.UserRepo,
	docCache *cache.DocumentCache,
) DocumentService {
	return &documentService{
		db:       db,
		log:      baseLog.With("service", "DocumentService"),
		docRepo:  docRepo,
		userRepo: userRepo,
		cache:    docCache,
	}
}

func (s *documentService) Create(ctx context.Context, doc *types.Document) (*types.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrValidation)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	if err := s.ownerExists(ctx, nil, doc.OwnerUserID); err != nil {
		return nil, err
	}
	if err := ensureBaseMetadata(doc); err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	created, err := s.docRepo.Create(ctx, nil, []*types.Document{doc})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.cache.Set(doc.ID, created[0])
	return created[0], nil
}

func (s *documentService) GetByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: missing document id", ErrValidation)
	}
	if doc, ok := s.cache.Get(id); ok {
		return doc, nil
	}
	rows, err := s.docRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	s.cache.Set(id, rows[0])
	return rows[0], nil
}

func (s *documentService) ListByOwner(ctx context.Context, ownerID uuid.UUID, docTypes []string, limit, offset int) ([]*types.Document, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	for _, dt := range docTypes {
		if !types.IsValidDocType(dt) {
			return nil, fmt.Errorf("%w: invalid doc_type %q", ErrValidation, dt)
		}
	}
	return s.docRepo.GetByOwner(ctx, nil, ownerID, docTypes, limit, offset)
}

// Update merges the supplied fields, bumps the version counter, and stores a
// snapshot of the prior content/summary under previous_version. The cache
// entry is invalidated before the updated row becomes readable and then
// repopulated.
func (s *documentService) Update(ctx context.Context, id uuid.UUID, update DocumentUpdate) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: missing document id", ErrValidation)
	}

	var updated *types.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.docRepo.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if len(rows) == 0 || rows[0] == nil {
			return fmt.Errorf("%w: document %s", ErrNotFound, id)
		}
		doc := rows[0]

		updates, err := mergeDocumentUpdate(doc, update)
		if err != nil {
			return err
		}
		if err := s.docRepo.UpdateFields(ctx, tx, id, updates); err != nil {
			return fmt.Errorf("update document: %w", err)
		}

		rows, err = s.docRepo.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil || len(rows) == 0 {
			return fmt.Errorf("reload document: %w", err)
		}
		updated = rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Delete(id)
	s.cache.Set(id, updated)
	return updated, nil
}

func (s *documentService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("%w: missing document id", ErrValidation)
	}
	rows, err := s.docRepo.DeleteByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	// Invalidate only after the row is gone. A reader racing the delete can
	// re-prime the entry from the still-existing row, so an invalidation
	// issued before the removal does not stick.
	s.cache.Delete(id)
	return rows > 0, nil
}

func (s *documentService) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	if ownerID == uuid.Nil {
		return 0, fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	return s.docRepo.CountByOwner(ctx, nil, ownerID)
}

// ReplaceForOwner swaps the owner's whole document set inside one
// transaction so no reader observes a mix of generations.
func (s *documentService) ReplaceForOwner(ctx context.Context, ownerID uuid.UUID, docs []*types.Document) ([]*types.Document, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	if err := s.ownerExists(ctx, nil, ownerID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, doc := range docs {
		if doc.OwnerUserID != ownerID {
			return nil, fmt.Errorf("%w: document owner mismatch", ErrValidation)
		}
		if err := validateDocument(doc); err != nil {
			return nil, err
		}
		if err := ensureBaseMetadata(doc); err != nil {
			return nil, err
		}
		if doc.ID == uuid.Nil {
			doc.ID = uuid.New()
		}
		doc.CreatedAt = now
		doc.UpdatedAt = now
	}

	var oldIDs []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.docRepo.GetByOwner(ctx, tx, ownerID, nil, 0, 0)
		if err != nil {
			return fmt.Errorf("load existing documents: %w", err)
		}
		for _, d := range existing {
			oldIDs = append(oldIDs, d.ID)
		}
		if _, err := s.docRepo.DeleteByOwner(ctx, tx, ownerID); err != nil {
			return fmt.Errorf("delete existing documents: %w", err)
		}
		if _, err := s.docRepo.Create(ctx, tx, docs); err != nil {
			return fmt.Errorf("insert replacement documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Old rows are gone once the transaction commits; invalidating here means
	// no reader can re-prime a replaced entry after this point.
	for _, id := range oldIDs {
		s.cache.Delete(id)
	}
	for _, doc := range docs {
		s.cache.Set(doc.ID, doc)
	}
	return docs, nil
}

func (s *documentService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *documentService) ownerExists(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	users, err := s.userRepo.GetByIDs(ctx, tx, []uuid.UUID{ownerID})
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if len(users) == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"veritrust/internal/dto"
	"veritrust/internal/metrics"
	"veritrust/internal/models"
	"veritrust/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxUploadSize caps document uploads at 16 MiB.
const maxUploadSize = 16 << 20

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum size")
	// ErrDocumentLocked is returned when editing a document whose
	// verification already ran. Details are only mutable while pending.
	ErrDocumentLocked = errors.New("document is no longer editable")
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// DocumentRepo is the persistence surface of the document CRUD path.
type DocumentRepo interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Document, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, documentType, description string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BlobStore is the object storage surface of the document CRUD path.
type BlobStore interface {
	Upload(ctx context.Context, userID uuid.UUID, fileName string, reader io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	URLExpiry() time.Duration
	Delete(ctx context.Context, key string) error
}

// DocumentListCache caches per-user listing pages.
type DocumentListCache interface {
	GetDocumentList(ctx context.Context, userID uuid.UUID, limit, offset int) []models.Document
	SetDocumentList(ctx context.Context, userID uuid.UUID, limit, offset int, docs []models.Document)
	InvalidateDocumentLists(ctx context.Context, userID uuid.UUID)
}

type DocumentService struct {
	docRepo DocumentRepo
	storage BlobStore
	cache   DocumentListCache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDocumentService(docRepo DocumentRepo, storage BlobStore, cache DocumentListCache, m *metrics.Metrics, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		docRepo: docRepo,
		storage: storage,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

// Upload validates and stores a document blob, then creates its record in
// the pending state.
func (s *DocumentService) Upload(ctx context.Context, userID uuid.UUID, file io.Reader, fileName string, fileSize int64, documentType, description string) (*dto.DocumentResponse, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if fileSize > maxUploadSize {
		return nil, ErrFileTooLarge
	}

	key, err := s.storage.Upload(ctx, userID, fileName, file, fileSize, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	now := time.Now()
	doc := &models.Document{
		ID:           uuid.New(),
		UserID:       userID,
		FileName:     fileName,
		MimeType:     contentType,
		FileSize:     fileSize,
		StorageKey:   key,
		DocumentType: documentType,
		Description:  description,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		// The record is the source of truth; an orphaned blob is cleaned
		// up so the upload leaves no trace on failure.
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned blob", zap.String("key", key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	s.invalidateLists(ctx, userID)
	s.metrics.IncrementDocumentOp("upload")
	s.logger.Info("Document uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("size", fileSize),
	)

	return documentToResponse(doc), nil
}

// List returns a page of the user's documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID uuid.UUID, limit, offset int) (*dto.DocumentListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if s.cache != nil {
		if cached := s.cache.GetDocumentList(ctx, userID, limit, offset); cached != nil {
			return buildListResponse(cached, limit, offset), nil
		}
	}

	docs, err := s.docRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	values := make([]models.Document, len(docs))
	for i, doc := range docs {
		values[i] = *doc
	}
	if s.cache != nil {
		s.cache.SetDocumentList(ctx, userID, limit, offset, values)
	}

	return buildListResponse(values, limit, offset), nil
}

// Get returns one document owned by the requester.
func (s *DocumentService) Get(ctx context.Context, userID, documentID uuid.UUID) (*models.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrUnauthorized
	}
	return doc, nil
}

// UpdateDetails edits the declared type and description of a pending document.
func (s *DocumentService) UpdateDetails(ctx context.Context, userID, documentID uuid.UUID, documentType, description string) (*dto.DocumentResponse, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	if err := s.docRepo.UpdateDetails(ctx, documentID, documentType, description); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDocumentLocked
		}
		return nil, err
	}

	doc.DocumentType = documentType
	doc.Description = description
	doc.UpdatedAt = time.Now()

	s.invalidateLists(ctx, userID)
	s.metrics.IncrementDocumentOp("update")

	return documentToResponse(doc), nil
}

// Delete removes the document record and its stored blob.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uuid.UUID) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}

	if err := s.docRepo.Delete(ctx, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
		// The record is gone; the blob is unreachable either way.
		s.logger.Warn("Failed to delete document blob",
			zap.String("key", doc.StorageKey),
			zap.Error(err),
		)
	}

	s.invalidateLists(ctx, userID)
	s.metrics.IncrementDocumentOp("delete")
	s.logger.Info("Document deleted",
		zap.String("document_id", documentID.String()),
		zap.String("user_id", userID.String()),
	)

	return nil
}

// DownloadURL returns a temporary URL for the document blob.
func (s *DocumentService) DownloadURL(ctx context.Context, userID, documentID uuid.UUID) (*dto.DocumentURLResponse, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	url, err := s.storage.PresignedURL(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate download URL: %w", err)
	}

	return &dto.DocumentURLResponse{
		URL:       url,
		ExpiresIn: int64(s.storage.URLExpiry().Seconds()),
	}, nil
}

func (s *DocumentService) invalidateLists(ctx context.Context, userID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateDocumentLists(ctx, userID)
	}
}

func buildListResponse(docs []models.Document, limit, offset int) *dto.DocumentListResponse {
	responses := make([]dto.DocumentResponse, len(docs))
	for i := range docs {
		responses[i] = *documentToResponse(&docs[i])
	}
	return &dto.DocumentListResponse{
		Documents: responses,
		Limit:     limit,
		Offset:    offset,
	}
}

func documentToResponse(doc *models.Document) *dto.DocumentResponse {
	return &dto.DocumentResponse{
		ID:           doc.ID.String(),
		FileName:     doc.FileName,
		MimeType:     doc.MimeType,
		FileSize:     doc.FileSize,
		DocumentType: doc.DocumentType,
		Description:  doc.Description,
		Status:       string(doc.Status),
		CreatedAt:    doc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    doc.UpdatedAt.Format(time.RFC3339),
	}
}

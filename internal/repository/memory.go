package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"veritrust/internal/models"

	"github.com/google/uuid"
)

// MemoryDocumentRepository is an in-memory implementation of the document
// store, used by tests and storage-less development runs.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]models.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		data: make(map[uuid.UUID]models.Document),
	}
}

func (r *MemoryDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *MemoryDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDocument(&doc)
	return &out, nil
}

func (r *MemoryDocumentRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	var docs []*models.Document
	for id := range r.data {
		doc := r.data[id]
		if doc.UserID == userID {
			out := cloneDocument(&doc)
			docs = append(docs, &out)
		}
	}
	r.mu.RUnlock()

	// Newest first, matching the Postgres ordering.
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []*models.Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// UpdateVerification replaces only the verification status and record,
// mirroring the partial-update semantics of the Postgres repository.
func (r *MemoryDocumentRepository) UpdateVerification(ctx context.Context, id uuid.UUID, status models.VerificationStatus, record *models.VerificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	if record != nil {
		rec := *record
		doc.Results = &rec
	}
	doc.UpdatedAt = time.Now()
	r.data[id] = doc
	return nil
}

func (r *MemoryDocumentRepository) UpdateDetails(ctx context.Context, id uuid.UUID, documentType, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok || doc.Status != models.StatusPending {
		return ErrConflict
	}
	doc.DocumentType = documentType
	doc.Description = description
	doc.UpdatedAt = time.Now()
	r.data[id] = doc
	return nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func cloneDocument(doc *models.Document) models.Document {
	out := *doc
	if doc.Results != nil {
		rec := *doc.Results
		out.Results = &rec
	}
	return out
}

// MemoryUserRepository is an in-memory implementation of the user store.
type MemoryUserRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		data: make(map[uuid.UUID]models.User),
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.data {
		if r.data[id].Email == email {
			user := r.data[id]
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"veritrust/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingDocument(userID uuid.UUID) *models.Document {
	return &models.Document{
		ID:           uuid.New(),
		UserID:       userID,
		FileName:     "passport.png",
		DocumentType: "passport",
		Description:  "front side",
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestMemoryDocumentRepositoryUpdateVerificationIsPartial(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()
	doc := pendingDocument(uuid.New())
	require.NoError(t, repo.Create(ctx, doc))

	record := &models.VerificationRecord{
		ExtractedText: "John Doe",
		Authenticity:  models.AuthenticityResult{Status: models.VerdictAuthentic},
		Ledger:        models.SimulatedReceipt(time.Now()),
		Timestamp:     time.Now(),
	}
	require.NoError(t, repo.UpdateVerification(ctx, doc.ID, models.StatusVerified, record))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, "John Doe", got.Results.ExtractedText)
	// Untouched fields survive the verification write.
	assert.Equal(t, "passport", got.DocumentType)
	assert.Equal(t, "front side", got.Description)

	err = repo.UpdateVerification(ctx, uuid.New(), models.StatusVerified, record)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDocumentRepositoryUpdateDetailsPendingOnly(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()
	doc := pendingDocument(uuid.New())
	require.NoError(t, repo.Create(ctx, doc))

	require.NoError(t, repo.UpdateDetails(ctx, doc.ID, "contract", "updated"))

	require.NoError(t, repo.UpdateVerification(ctx, doc.ID, models.StatusRejected, &models.VerificationRecord{}))
	err := repo.UpdateDetails(ctx, doc.ID, "other", "")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "contract", got.DocumentType)
}

func TestMemoryDocumentRepositoryGetReturnsCopy(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()
	doc := pendingDocument(uuid.New())
	require.NoError(t, repo.Create(ctx, doc))

	first, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	first.Status = models.StatusError
	first.FileName = "mutated.png"

	second, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, second.Status)
	assert.Equal(t, "passport.png", second.FileName)
}

func TestMemoryDocumentRepositoryListPagination(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()
	userID := uuid.New()

	base := time.Now()
	for i := 0; i < 5; i++ {
		doc := pendingDocument(userID)
		doc.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, doc))
	}
	require.NoError(t, repo.Create(ctx, pendingDocument(uuid.New())))

	page, err := repo.ListByUserID(ctx, userID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := repo.ListByUserID(ctx, userID, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	empty, err := repo.ListByUserID(ctx, userID, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryUserRepository(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	user := &models.User{
		ID:       uuid.New(),
		Name:     "Alice",
		Email:    "alice@example.com",
		Role:     models.UserRoleUser,
		IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, user))

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Name)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

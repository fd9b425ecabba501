package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"veritrust/internal/models"
	"veritrust/internal/repository"
	"veritrust/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubExtractor struct {
	text   string
	conf   float64
	called bool
}

func (s *stubExtractor) Extract(ctx context.Context, fileRef string) (string, float64) {
	s.called = true
	return s.text, s.conf
}

type stubAuthenticity struct {
	result models.AuthenticityResult
	err    error
	called bool
	// blockUntilTimeout makes the stub wait for the step context to expire
	// and report its error, simulating a hung backend.
	blockUntilTimeout bool
}

func (s *stubAuthenticity) Assess(ctx context.Context, fileRef, documentType string) (models.AuthenticityResult, error) {
	s.called = true
	if s.blockUntilTimeout {
		<-ctx.Done()
		return models.AuthenticityResult{}, ctx.Err()
	}
	return s.result, s.err
}

type stubContent struct {
	flags  []string
	err    error
	called bool
}

func (s *stubContent) Analyze(ctx context.Context, fileRef, text string) ([]string, error) {
	s.called = true
	return s.flags, s.err
}

type stubLedger struct {
	receipt models.LedgerReceipt
	entries []models.LedgerEntry
	called  bool
}

func (s *stubLedger) Record(ctx context.Context, documentID string, payload models.LedgerPayload) models.LedgerReceipt {
	s.called = true
	return s.receipt
}

func (s *stubLedger) History(ctx context.Context, documentID string) ([]models.LedgerEntry, error) {
	return s.entries, nil
}

type failingStore struct {
	DocumentStore
	updateErr error
}

func (s *failingStore) UpdateVerification(ctx context.Context, id uuid.UUID, status models.VerificationStatus, record *models.VerificationRecord) error {
	return s.updateErr
}

func authenticResult(score float64) models.AuthenticityResult {
	return models.AuthenticityResult{
		Status: models.VerdictAuthentic,
		Signals: map[string]models.SignalValue{
			"score": models.NumberSignal(score),
			"model": models.StringSignal("GigaChat"),
		},
	}
}

func seedDocument(t *testing.T, repo *repository.MemoryDocumentRepository, userID uuid.UUID) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:           uuid.New(),
		UserID:       userID,
		FileName:     "passport.png",
		MimeType:     "image/png",
		FileSize:     2048,
		StorageKey:   "users/" + userID.String() + "/documents/" + uuid.NewString() + ".png",
		DocumentType: "passport",
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	return doc
}

func newService(store DocumentStore, ex TextExtractor, au AuthenticityAnalyzer, co ContentAnalyzer, le LedgerRecorder) *VerificationService {
	return NewVerificationService(store, ex, au, co, le, nil, nil, time.Second, zap.NewNop())
}

func TestVerifyAuthenticDocument(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	extractor := &stubExtractor{text: "John Doe, P123456", conf: 0.92}
	authenticity := &stubAuthenticity{result: authenticResult(0.95)}
	content := &stubContent{flags: []string{}}
	ledger := NewLedgerService(&config.LedgerConfig{Enabled: false}, zap.NewNop())

	svc := newService(repo, extractor, authenticity, content, ledger)

	record, err := svc.Verify(context.Background(), userID, doc.ID)
	require.NoError(t, err)

	assert.Equal(t, "John Doe, P123456", record.ExtractedText)
	assert.Equal(t, 0.92, record.ConfidenceScore)
	assert.Equal(t, models.VerdictAuthentic, record.Authenticity.Status)
	assert.Empty(t, record.ContentFlags)
	assert.Equal(t, models.ReceiptSimulated, record.Ledger.Status)
	assert.Empty(t, record.FailureReason)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
	require.NotNil(t, stored.Results)
	assert.Equal(t, record.ExtractedText, stored.Results.ExtractedText)
}

func TestVerifyStatusMatchesVerdict(t *testing.T) {
	cases := []struct {
		verdict string
		status  models.VerificationStatus
	}{
		{models.VerdictAuthentic, models.StatusVerified},
		{models.VerdictSuspicious, models.StatusRejected},
		{models.VerdictRejected, models.StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.verdict, func(t *testing.T) {
			repo := repository.NewMemoryDocumentRepository()
			userID := uuid.New()
			doc := seedDocument(t, repo, userID)

			authenticity := &stubAuthenticity{result: models.AuthenticityResult{
				Status:  tc.verdict,
				Signals: map[string]models.SignalValue{"score": models.NumberSignal(0.4)},
			}}
			svc := newService(repo, &stubExtractor{text: "text", conf: 0.8}, authenticity,
				&stubContent{flags: []string{}}, &stubLedger{receipt: models.SimulatedReceipt(time.Now())})

			record, err := svc.Verify(context.Background(), userID, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.verdict, record.Authenticity.Status)

			stored, err := repo.GetByID(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, stored.Status)
		})
	}
}

func TestVerifyUnauthorizedLeavesDocumentUntouched(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	owner := uuid.New()
	doc := seedDocument(t, repo, owner)

	extractor := &stubExtractor{text: "text", conf: 0.8}
	authenticity := &stubAuthenticity{result: authenticResult(0.9)}
	svc := newService(repo, extractor, authenticity, &stubContent{}, &stubLedger{})

	_, err := svc.Verify(context.Background(), uuid.New(), doc.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.False(t, extractor.called, "no analyzer should run for a foreign document")
	assert.False(t, authenticity.called)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.Results)
}

func TestVerifyUnknownDocument(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	svc := newService(repo, &stubExtractor{}, &stubAuthenticity{}, &stubContent{}, &stubLedger{})

	_, err := svc.Verify(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestVerifyEmptyTextStillCompletes(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	content := &stubContent{flags: []string{}}
	svc := newService(repo, &stubExtractor{text: "", conf: 0},
		&stubAuthenticity{result: authenticResult(0.7)}, content,
		&stubLedger{receipt: models.SimulatedReceipt(time.Now())})

	record, err := svc.Verify(context.Background(), userID, doc.ID)
	require.NoError(t, err)

	assert.True(t, content.called, "content analysis runs even without text")
	assert.Equal(t, "", record.ExtractedText)
	assert.Equal(t, 0.0, record.ConfidenceScore)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
}

func TestVerifyAuthenticityFailurePersistsErrorState(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	content := &stubContent{}
	ledger := &stubLedger{}
	svc := newService(repo, &stubExtractor{text: "partial text", conf: 0.8},
		&stubAuthenticity{err: errors.New("model unavailable")}, content, ledger)

	_, err := svc.Verify(context.Background(), userID, doc.ID)

	var analyzerErr *AnalyzerError
	require.ErrorAs(t, err, &analyzerErr)
	assert.Equal(t, "authenticity", analyzerErr.Step)

	assert.False(t, content.called, "pipeline stops at the failed step")
	assert.False(t, ledger.called, "nothing is recorded for a failed attempt")

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
	require.NotNil(t, stored.Results)
	assert.Equal(t, "partial text", stored.Results.ExtractedText)
	assert.NotEmpty(t, stored.Results.FailureReason)
	assert.Equal(t, models.ReceiptError, stored.Results.Ledger.Status)
}

func TestVerifyContentFailurePersistsErrorState(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	svc := newService(repo, &stubExtractor{text: "text", conf: 0.8},
		&stubAuthenticity{result: authenticResult(0.9)},
		&stubContent{err: errors.New("analysis timed out")}, &stubLedger{})

	_, err := svc.Verify(context.Background(), userID, doc.ID)

	var analyzerErr *AnalyzerError
	require.ErrorAs(t, err, &analyzerErr)
	assert.Equal(t, "content", analyzerErr.Step)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
}

func TestVerifyLedgerFailureDoesNotChangeStatus(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	ledger := &stubLedger{receipt: models.ErrorReceipt("node unreachable", time.Now())}
	svc := newService(repo, &stubExtractor{text: "text", conf: 0.8},
		&stubAuthenticity{result: authenticResult(0.9)}, &stubContent{flags: []string{}}, ledger)

	record, err := svc.Verify(context.Background(), userID, doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReceiptError, record.Ledger.Status)
	assert.Equal(t, "node unreachable", record.Ledger.Message)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status, "ledger failure never fails the verification")
}

func TestVerifyStepTimeout(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	svc := NewVerificationService(repo, &stubExtractor{text: "text", conf: 0.8},
		&stubAuthenticity{blockUntilTimeout: true}, &stubContent{}, &stubLedger{},
		nil, nil, 50*time.Millisecond, zap.NewNop())

	_, err := svc.Verify(context.Background(), userID, doc.ID)

	var analyzerErr *AnalyzerError
	require.ErrorAs(t, err, &analyzerErr)
	assert.Equal(t, "authenticity", analyzerErr.Step)
	assert.ErrorIs(t, analyzerErr.Err, context.DeadlineExceeded)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
}

func TestVerifyPersistFailure(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	store := &failingStore{DocumentStore: repo, updateErr: errors.New("connection reset")}
	svc := newService(store, &stubExtractor{text: "text", conf: 0.8},
		&stubAuthenticity{result: authenticResult(0.9)}, &stubContent{flags: []string{}},
		&stubLedger{receipt: models.SimulatedReceipt(time.Now())})

	_, err := svc.Verify(context.Background(), userID, doc.ID)
	assert.ErrorIs(t, err, ErrStorageFailure)

	stored, getErr := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestVerifyErroredDocumentCanBeRetried(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	failing := &stubAuthenticity{err: errors.New("model unavailable")}
	svc := newService(repo, &stubExtractor{text: "text", conf: 0.8}, failing,
		&stubContent{flags: []string{}}, &stubLedger{receipt: models.SimulatedReceipt(time.Now())})

	_, err := svc.Verify(context.Background(), userID, doc.ID)
	require.Error(t, err)

	failing.err = nil
	failing.result = authenticResult(0.9)

	record, err := svc.Verify(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictAuthentic, record.Authenticity.Status)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
	assert.Empty(t, stored.Results.FailureReason)
}

func TestVerifyContentFlagsPropagate(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	svc := newService(repo, &stubExtractor{text: "text", conf: 0.8},
		&stubAuthenticity{result: authenticResult(0.9)},
		&stubContent{flags: []string{"inconsistent_dates", "missing_expiry_date"}},
		&stubLedger{receipt: models.SimulatedReceipt(time.Now())})

	record, err := svc.Verify(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inconsistent_dates", "missing_expiry_date"}, record.ContentFlags)
}

func TestStatusOwnerChecks(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	svc := newService(repo, &stubExtractor{}, &stubAuthenticity{}, &stubContent{}, &stubLedger{})

	got, err := svc.Status(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = svc.Status(context.Background(), uuid.New(), doc.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Status(context.Background(), userID, uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestHistoryOwnerChecks(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	userID := uuid.New()
	doc := seedDocument(t, repo, userID)

	ledger := &stubLedger{entries: []models.LedgerEntry{
		{TxHash: "0xabc", BlockNumber: 12, Digest: "deadbeef"},
	}}
	svc := newService(repo, &stubExtractor{}, &stubAuthenticity{}, &stubContent{}, ledger)

	entries, err := svc.History(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0xabc", entries[0].TxHash)

	_, err = svc.History(context.Background(), uuid.New(), doc.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

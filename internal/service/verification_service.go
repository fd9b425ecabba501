package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"veritrust/internal/metrics"
	"veritrust/internal/models"
	"veritrust/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDocumentNotFound is returned when the document id does not resolve.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrUnauthorized is returned when the requester does not own the document.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStorageFailure is returned when persisting a completed verification
	// failed. The in-memory record is lost; the caller must re-invoke Verify.
	ErrStorageFailure = errors.New("storage failure")
)

// AnalyzerError marks a fatal analyzer step failure. The document is left in
// the error status with the original cause preserved on its record.
type AnalyzerError struct {
	Step string
	Err  error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("%s analyzer failed: %v", e.Step, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

// DocumentStore is the persistence the orchestrator needs: a read and a
// partial write covering exactly the verification fields.
type DocumentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateVerification(ctx context.Context, id uuid.UUID, status models.VerificationStatus, record *models.VerificationRecord) error
}

// TextExtractor extracts text from a stored document. It never fails:
// internal errors degrade to ("", 0.0).
type TextExtractor interface {
	Extract(ctx context.Context, fileRef string) (text string, confidence float64)
}

// AuthenticityAnalyzer produces the verdict that decides the document status.
type AuthenticityAnalyzer interface {
	Assess(ctx context.Context, fileRef, documentType string) (models.AuthenticityResult, error)
}

// ContentAnalyzer cross-checks extracted text and reports anomaly flags.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, fileRef, text string) ([]string, error)
}

// LedgerRecorder commits verification digests. Record always returns a
// receipt value, never an error.
type LedgerRecorder interface {
	Record(ctx context.Context, documentID string, payload models.LedgerPayload) models.LedgerReceipt
	History(ctx context.Context, documentID string) ([]models.LedgerEntry, error)
}

// VerificationCache caches documents with their verification state. Reads
// that miss return nil; writes that fail are swallowed by the implementation.
type VerificationCache interface {
	GetDocument(ctx context.Context, documentID uuid.UUID) *models.Document
	SetDocument(ctx context.Context, doc *models.Document)
	InvalidateVerification(ctx context.Context, documentID uuid.UUID)
}

// VerificationService drives one verification attempt per call: OCR text
// extraction, authenticity assessment, content analysis, ledger recording,
// then one atomic persistence write of status plus record. The document never
// claims results a run did not produce.
type VerificationService struct {
	store        DocumentStore
	extractor    TextExtractor
	authenticity AuthenticityAnalyzer
	content      ContentAnalyzer
	ledger       LedgerRecorder
	cache        VerificationCache
	metrics      *metrics.Metrics
	stepTimeout  time.Duration
	locks        *keyedMutex
	logger       *zap.Logger
}

func NewVerificationService(
	store DocumentStore,
	extractor TextExtractor,
	authenticity AuthenticityAnalyzer,
	content ContentAnalyzer,
	ledger LedgerRecorder,
	cache VerificationCache,
	m *metrics.Metrics,
	stepTimeout time.Duration,
	logger *zap.Logger,
) *VerificationService {
	return &VerificationService{
		store:        store,
		extractor:    extractor,
		authenticity: authenticity,
		content:      content,
		ledger:       ledger,
		cache:        cache,
		metrics:      m,
		stepTimeout:  stepTimeout,
		locks:        newKeyedMutex(),
		logger:       logger,
	}
}

// Verify runs one verification attempt for the document. Attempts for the
// same document are serialized so a slow attempt cannot overwrite a newer
// result with stale data; attempts for different documents run concurrently.
func (s *VerificationService) Verify(ctx context.Context, requesterID, documentID uuid.UUID) (*models.VerificationRecord, error) {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	started := time.Now()

	// Preconditions come before any analyzer call: no external work is
	// wasted on a document the requester cannot verify.
	doc, err := s.store.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if doc.UserID != requesterID {
		return nil, ErrUnauthorized
	}

	// Step 2: text extraction. The extractor contract degrades to empty
	// text instead of failing, so this step can never abort the attempt.
	text, confidence := s.timedExtract(ctx, doc.StorageKey)
	if text == "" {
		s.logger.Warn("Text extraction produced no text, continuing",
			zap.String("document_id", documentID.String()),
		)
	}

	// Step 3: authenticity assessment. Fatal on failure: it decides the
	// final status, so the attempt cannot proceed without it.
	auth, err := s.timedAssess(ctx, doc.StorageKey, doc.DocumentType)
	if err != nil {
		return nil, s.failAttempt(ctx, documentID, text, confidence, &AnalyzerError{Step: "authenticity", Err: err})
	}

	// Step 4: content analysis over the extracted text. Same fatality
	// policy as authenticity.
	flags, err := s.timedAnalyze(ctx, doc.StorageKey, text)
	if err != nil {
		return nil, s.failAttempt(ctx, documentID, text, confidence, &AnalyzerError{Step: "content", Err: err})
	}
	if flags == nil {
		flags = []string{}
	}

	// Step 5: ledger recording. An audit side-effect: the recorder always
	// hands back a receipt value and never aborts the attempt.
	receipt := s.timedRecord(ctx, documentID, models.LedgerPayload{
		ExtractedText:   text,
		ConfidenceScore: confidence,
		Authenticity:    auth,
		ContentFlags:    flags,
	})

	record := &models.VerificationRecord{
		ExtractedText:   text,
		ConfidenceScore: confidence,
		Authenticity:    auth,
		ContentFlags:    flags,
		Ledger:          receipt,
		Timestamp:       time.Now().UTC(),
	}
	status := models.StatusFromVerdict(auth.Status)

	// Step 8: one atomic write of status plus record. Readers never see a
	// status without its record or vice versa.
	if err := s.store.UpdateVerification(ctx, documentID, status, record); err != nil {
		s.metrics.IncrementVerification(string(models.StatusError))
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.invalidate(ctx, documentID)
	s.metrics.IncrementVerification(string(status))
	s.metrics.ObserveVerifyLatency(time.Since(started))

	s.logger.Info("Document verification completed",
		zap.String("document_id", documentID.String()),
		zap.String("status", string(status)),
		zap.String("verdict", auth.Status),
		zap.Int("content_flags", len(flags)),
		zap.String("ledger", record.Ledger.Status),
	)

	return record, nil
}

// Status returns the document's current verification state for its owner.
func (s *VerificationService) Status(ctx context.Context, requesterID, documentID uuid.UUID) (*models.Document, error) {
	if s.cache != nil {
		if doc := s.cache.GetDocument(ctx, documentID); doc != nil {
			if doc.UserID != requesterID {
				return nil, ErrUnauthorized
			}
			return doc, nil
		}
	}

	doc, err := s.store.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if doc.UserID != requesterID {
		return nil, ErrUnauthorized
	}

	if s.cache != nil {
		s.cache.SetDocument(ctx, doc)
	}
	return doc, nil
}

// History returns past verification commits for the document from the
// ledger. Only the latest record lives on the document itself.
func (s *VerificationService) History(ctx context.Context, requesterID, documentID uuid.UUID) ([]models.LedgerEntry, error) {
	doc, err := s.store.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if doc.UserID != requesterID {
		return nil, ErrUnauthorized
	}

	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	return s.ledger.History(stepCtx, documentID.String())
}

// failAttempt persists the error status with a record capturing what the
// attempt gathered before the fatal step, then surfaces the analyzer error.
func (s *VerificationService) failAttempt(ctx context.Context, documentID uuid.UUID, text string, confidence float64, aerr *AnalyzerError) error {
	now := time.Now().UTC()
	record := &models.VerificationRecord{
		ExtractedText:   text,
		ConfidenceScore: confidence,
		Authenticity:    models.AuthenticityResult{Signals: map[string]models.SignalValue{}},
		ContentFlags:    []string{},
		Ledger:          models.ErrorReceipt("not recorded: verification aborted", now),
		Timestamp:       now,
		FailureReason:   aerr.Error(),
	}

	if err := s.store.UpdateVerification(ctx, documentID, models.StatusError, record); err != nil {
		// The attempt already failed; losing the diagnostic record is
		// logged but does not mask the analyzer error.
		s.logger.Error("Failed to persist error verification record",
			zap.String("document_id", documentID.String()),
			zap.Error(err),
		)
	} else {
		s.invalidate(ctx, documentID)
	}

	s.metrics.IncrementVerification(string(models.StatusError))
	s.logger.Error("Document verification failed",
		zap.String("document_id", documentID.String()),
		zap.String("step", aerr.Step),
		zap.Error(aerr.Err),
	)

	return aerr
}

func (s *VerificationService) timedExtract(ctx context.Context, fileRef string) (string, float64) {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	started := time.Now()
	text, confidence := s.extractor.Extract(stepCtx, fileRef)
	s.metrics.ObserveStepLatency("extract", time.Since(started))
	return text, confidence
}

func (s *VerificationService) timedAssess(ctx context.Context, fileRef, documentType string) (models.AuthenticityResult, error) {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	started := time.Now()
	result, err := s.authenticity.Assess(stepCtx, fileRef, documentType)
	s.metrics.ObserveStepLatency("assess", time.Since(started))
	return result, err
}

func (s *VerificationService) timedAnalyze(ctx context.Context, fileRef, text string) ([]string, error) {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	started := time.Now()
	flags, err := s.content.Analyze(stepCtx, fileRef, text)
	s.metrics.ObserveStepLatency("analyze", time.Since(started))
	return flags, err
}

func (s *VerificationService) timedRecord(ctx context.Context, documentID uuid.UUID, payload models.LedgerPayload) models.LedgerReceipt {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	started := time.Now()
	receipt := s.ledger.Record(stepCtx, documentID.String(), payload)
	s.metrics.ObserveStepLatency("ledger", time.Since(started))
	return receipt
}

// stepContext bounds one external call so a hung backend cannot hang the
// whole request.
func (s *VerificationService) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.stepTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.stepTimeout)
}

func (s *VerificationService) invalidate(ctx context.Context, documentID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateVerification(ctx, documentID)
	}
}

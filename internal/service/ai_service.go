package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"veritrust/internal/models"

	"go.uber.org/zap"
)

// AIService adapts the LLM client to the analyzer contracts consumed by the
// verification orchestrator: authenticity assessment over the raw document
// and content analysis over the extracted text.
type AIService struct {
	llm     *LLMService
	storage BlobFetcher
	logger  *zap.Logger
}

func NewAIService(llm *LLMService, storage BlobFetcher, logger *zap.Logger) *AIService {
	return &AIService{
		llm:     llm,
		storage: storage,
		logger:  logger,
	}
}

// Assess fetches the document blob and asks the model for an authenticity
// verdict against the declared document type.
func (s *AIService) Assess(ctx context.Context, fileRef, documentType string) (models.AuthenticityResult, error) {
	data, err := s.storage.GetBytes(ctx, fileRef)
	if err != nil {
		return models.AuthenticityResult{}, fmt.Errorf("failed to fetch document for assessment: %w", err)
	}

	result, err := s.llm.AssessAuthenticity(ctx, filepath.Base(fileRef), bytes.NewReader(data), documentType)
	if err != nil {
		return models.AuthenticityResult{}, err
	}

	s.logger.Info("Authenticity assessment completed",
		zap.String("file_ref", fileRef),
		zap.String("verdict", result.Status),
	)

	return result, nil
}

// Analyze cross-checks the extracted text for content anomalies.
func (s *AIService) Analyze(ctx context.Context, fileRef, extractedText string) ([]string, error) {
	flags, err := s.llm.AnalyzeContent(ctx, extractedText)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Content analysis completed",
		zap.String("file_ref", fileRef),
		zap.Int("flags", len(flags)),
	)

	return flags, nil
}

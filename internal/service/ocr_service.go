package service

import (
	"context"
	"path/filepath"
	"strings"

	"veritrust/pkg/config"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// OCR confidence levels. PDFs with an embedded text layer are near-lossless;
// tesseract output gets the flat confidence the upstream pipeline historically
// used for image OCR.
const (
	pdfTextConfidence   = 0.95
	imageTextConfidence = 0.8
)

// BlobFetcher fetches a stored document blob by its storage key.
type BlobFetcher interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// OCRService extracts text from stored documents. PDFs go through go-fitz
// (embedded text layer), images through tesseract.
//
// Extract never returns an error: any internal failure degrades to an empty
// result with zero confidence. The degradation stays visible to the caller
// through the confidence score, it is not silent data loss.
type OCRService struct {
	storage   BlobFetcher
	languages string
	logger    *zap.Logger
}

func NewOCRService(storage BlobFetcher, cfg *config.OCRConfig, logger *zap.Logger) *OCRService {
	return &OCRService{
		storage:   storage,
		languages: cfg.Languages,
		logger:    logger,
	}
}

// Extract pulls the blob behind fileRef and returns its text and a confidence
// score in [0,1]. Failures are logged and reported as ("", 0.0).
func (s *OCRService) Extract(ctx context.Context, fileRef string) (string, float64) {
	data, err := s.storage.GetBytes(ctx, fileRef)
	if err != nil {
		s.logger.Warn("OCR could not fetch document blob",
			zap.String("file_ref", fileRef),
			zap.Error(err),
		)
		return "", 0.0
	}

	ext := strings.ToLower(filepath.Ext(fileRef))

	var text string
	var confidence float64
	switch ext {
	case ".pdf":
		text, err = s.extractFromPDF(data)
		confidence = pdfTextConfidence
	case ".jpg", ".jpeg", ".png":
		text, err = s.extractFromImage(data)
		confidence = imageTextConfidence
	default:
		s.logger.Warn("OCR skipping unsupported format", zap.String("file_ref", fileRef), zap.String("ext", ext))
		return "", 0.0
	}

	if err != nil {
		s.logger.Warn("OCR extraction failed",
			zap.String("file_ref", fileRef),
			zap.Error(err),
		)
		return "", 0.0
	}

	// Tesseract can emit broken byte sequences that Postgres rejects.
	text = sanitizeUTF8(strings.TrimSpace(text))
	if text == "" {
		return "", 0.0
	}

	s.logger.Info("OCR extraction completed",
		zap.String("file_ref", fileRef),
		zap.Int("text_length", len(text)),
	)

	return text, confidence
}

func (s *OCRService) extractFromPDF(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	var builder strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			s.logger.Warn("Failed to extract text from page", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		if pageText != "" {
			builder.WriteString(pageText)
			builder.WriteString("\n")
		}
	}

	return builder.String(), nil
}

func (s *OCRService) extractFromImage(data []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if s.languages != "" {
		if err := client.SetLanguage(strings.Split(s.languages, ",")...); err != nil {
			return "", err
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", err
	}

	return client.Text()
}

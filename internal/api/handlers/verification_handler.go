package handlers

import (
	"errors"

	"veritrust/internal/dto"
	"veritrust/internal/models"
	"veritrust/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type VerificationHandler struct {
	verifService *service.VerificationService
	logger       *zap.Logger
}

func NewVerificationHandler(verifService *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		verifService: verifService,
		logger:       logger,
	}
}

// VerifyDocument runs a full verification attempt and returns the record.
func (h *VerificationHandler) VerifyDocument(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	record, err := h.verifService.Verify(c.Context(), userID, documentID)
	if err != nil {
		var analyzerErr *service.AnalyzerError
		if errors.As(err, &analyzerErr) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Verification failed during analysis",
				"step":  analyzerErr.Step,
			})
		}
		return h.verificationError(c, err, "Verification failed")
	}

	return c.JSON(dto.VerificationResponse{
		DocumentID: documentID.String(),
		Status:     string(models.StatusFromVerdict(record.Authenticity.Status)),
		Record:     record,
	})
}

// VerificationStatus returns the current status and latest record.
func (h *VerificationHandler) VerificationStatus(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	doc, err := h.verifService.Status(c.Context(), userID, documentID)
	if err != nil {
		return h.verificationError(c, err, "Failed to get verification status")
	}

	return c.JSON(dto.VerificationStatusResponse{
		DocumentID: documentID.String(),
		Status:     string(doc.Status),
		Record:     doc.Results,
	})
}

// VerificationHistory returns past verification commits from the ledger.
func (h *VerificationHandler) VerificationHistory(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	entries, err := h.verifService.History(c.Context(), userID, documentID)
	if err != nil {
		return h.verificationError(c, err, "Failed to get verification history")
	}

	return c.JSON(dto.VerificationHistoryResponse{
		DocumentID: documentID.String(),
		Entries:    entries,
	})
}

func (h *VerificationHandler) verificationError(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, service.ErrDocumentNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}
	if errors.Is(err, service.ErrUnauthorized) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Document belongs to another user",
		})
	}
	h.logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

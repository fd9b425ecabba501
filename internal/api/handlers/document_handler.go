package handlers

import (
	"errors"

	"veritrust/internal/dto"
	"veritrust/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	docService *service.DocumentService
	logger     *zap.Logger
}

func NewDocumentHandler(docService *service.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
		logger:     logger,
	}
}

// UploadDocument stores a new document in the pending state.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	documentType := c.FormValue("document_type")
	if documentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document type is required",
		})
	}
	description := c.FormValue("description")

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open file",
		})
	}
	defer src.Close()

	doc, err := h.docService.Upload(c.Context(), userID, src, file.Filename, file.Size, documentType, description)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedFileType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unsupported file type, expected pdf, png or jpeg",
			})
		}
		if errors.Is(err, service.ErrFileTooLarge) {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "File exceeds the 16MB limit",
			})
		}
		h.logger.Error("Failed to upload document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to upload document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(doc)
}

// ListDocuments returns a page of the requester's documents.
func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	docs, err := h.docService.List(c.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	return c.JSON(docs)
}

// GetDocument returns one document with its latest verification record.
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	doc, err := h.docService.Get(c.Context(), userID, documentID)
	if err != nil {
		return h.documentError(c, err, "Failed to get document")
	}

	return c.JSON(fiber.Map{
		"document": doc,
	})
}

// UpdateDocument edits the declared type and description of a pending document.
func (h *DocumentHandler) UpdateDocument(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	var req dto.UpdateDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.DocumentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document type is required",
		})
	}

	doc, err := h.docService.UpdateDetails(c.Context(), userID, documentID, req.DocumentType, req.Description)
	if err != nil {
		if errors.Is(err, service.ErrDocumentLocked) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Document details can only be edited before verification",
			})
		}
		return h.documentError(c, err, "Failed to update document")
	}

	return c.JSON(doc)
}

// DeleteDocument removes the document record and its stored file.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	if err := h.docService.Delete(c.Context(), userID, documentID); err != nil {
		return h.documentError(c, err, "Failed to delete document")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// DocumentURL returns a temporary download URL for the stored file.
func (h *DocumentHandler) DocumentURL(c *fiber.Ctx) error {
	userID, documentID, errResp := requesterAndDocument(c)
	if errResp != nil {
		return errResp(c)
	}

	resp, err := h.docService.DownloadURL(c.Context(), userID, documentID)
	if err != nil {
		return h.documentError(c, err, "Failed to generate download URL")
	}

	return c.JSON(resp)
}

func (h *DocumentHandler) documentError(c *fiber.Ctx, err error, msg string) error {
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

func getUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, ok := c.Locals("userID").(string)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, err
	}

	return userID, nil
}

// requesterAndDocument extracts the authenticated user and the :id path
// parameter shared by the per-document routes.
func requesterAndDocument(c *fiber.Ctx) (uuid.UUID, uuid.UUID, func(*fiber.Ctx) error) {
	userID, err := getUserID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
	}

	documentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid document ID",
			})
		}
	}

	return userID, documentID, nil
}

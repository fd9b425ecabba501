package dto

import "veritrust/internal/models"

type VerificationResponse struct {
	DocumentID string                     `json:"document_id"`
	Status     string                     `json:"status"`
	Record     *models.VerificationRecord `json:"record"`
}

type VerificationStatusResponse struct {
	DocumentID string                     `json:"document_id"`
	Status     string                     `json:"status"`
	Record     *models.VerificationRecord `json:"record,omitempty"`
}

type VerificationHistoryResponse struct {
	DocumentID string               `json:"document_id"`
	Entries    []models.LedgerEntry `json:"entries"`
}

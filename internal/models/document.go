package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is the lifecycle state of a document. A document starts
// as pending and only the verification pipeline moves it to another state.
// An errored document can be re-verified.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
	StatusError    VerificationStatus = "error"
)

type Document struct {
	ID           uuid.UUID          `db:"id"`
	UserID       uuid.UUID          `db:"user_id"`
	FileName     string             `db:"file_name"`
	MimeType     string             `db:"mime_type"`
	FileSize     int64              `db:"file_size"`
	StorageKey   string             `db:"storage_key"`
	DocumentType string             `db:"document_type"`
	Description  string             `db:"description"`
	Status       VerificationStatus `db:"verification_status"`
	// Results holds the latest verification record, nil before the first run.
	Results   *VerificationRecord `db:"verification_results"`
	CreatedAt time.Time           `db:"created_at"`
	UpdatedAt time.Time           `db:"updated_at"`
}

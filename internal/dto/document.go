package dto

type UpdateDocumentRequest struct {
	DocumentType string `json:"document_type" validate:"required,min=2,max=100"`
	Description  string `json:"description" validate:"max=1000"`
}

type DocumentResponse struct {
	ID           string `json:"id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
	DocumentType string `json:"document_type"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"verification_status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type DocumentURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in"`
}

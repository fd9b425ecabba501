package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veritrust/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const documentColumns = "id, user_id, file_name, mime_type, file_size, storage_key, " +
	"document_type, description, verification_status, verification_results, created_at, updated_at"

type DocumentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDocumentRepository(db *pgxpool.Pool, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := squirrel.Insert("documents").
		Columns("id", "user_id", "file_name", "mime_type", "file_size", "storage_key",
			"document_type", "description", "verification_status", "created_at", "updated_at").
		Values(doc.ID, doc.UserID, doc.FileName, doc.MimeType, doc.FileSize, doc.StorageKey,
			doc.DocumentType, doc.Description, doc.Status, doc.CreatedAt, doc.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := squirrel.Select(documentColumns).
		From("documents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *DocumentRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Document, error) {
	query := squirrel.Select(documentColumns).
		From("documents").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}

	return documents, rows.Err()
}

// UpdateVerification atomically replaces the verification status and record.
// It deliberately touches nothing else: document details edited through the
// CRUD path must never be clobbered by a verification write.
func (r *DocumentRepository) UpdateVerification(ctx context.Context, id uuid.UUID, status models.VerificationStatus, record *models.VerificationRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode verification record: %w", err)
	}

	query := squirrel.Update("documents").
		Set("verification_status", status).
		Set("verification_results", payload).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDetails edits the user-facing fields of a document. The guard on
// verification_status enforces that details are only mutable while pending.
func (r *DocumentRepository) UpdateDetails(ctx context.Context, id uuid.UUID, documentType, description string) error {
	query := squirrel.Update("documents").
		Set("document_type", documentType).
		Set("description", description).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id, "verification_status": models.StatusPending}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := squirrel.Delete("documents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var results []byte
	if err := row.Scan(
		&doc.ID, &doc.UserID, &doc.FileName, &doc.MimeType, &doc.FileSize, &doc.StorageKey,
		&doc.DocumentType, &doc.Description, &doc.Status, &results, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(results) > 0 {
		var record models.VerificationRecord
		if err := json.Unmarshal(results, &record); err != nil {
			return nil, fmt.Errorf("failed to decode verification record: %w", err)
		}
		doc.Results = &record
	}

	return &doc, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// ErrDocumentNotFound is returned when a document id does not exist or
// belongs to another account.
var ErrDocumentNotFound = errors.New("document not found")

// InsertDocument persists a freshly uploaded document.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	pipelineJSON, err := json.Marshal(doc.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}

	query := `
		INSERT INTO documents (
			id, account_id, file_name, object_key, mime_type, size_bytes,
			status, pipeline_state, tokens_used, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt

	_, err = s.pool.Exec(ctx, query,
		doc.ID, doc.AccountID, doc.FileName, doc.ObjectKey, doc.MimeType,
		doc.SizeBytes, doc.Status, pipelineJSON, doc.TokensUsed, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// UpdateDocument writes back every mutable column, including extracted
// fields and the serialized assessments. The orchestrator calls this after
// each stage so a crash mid-pipeline leaves the last completed stage
// visible.
func (s *Store) UpdateDocument(ctx context.Context, doc *models.Document) error {
	pipelineJSON, err := json.Marshal(doc.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}
	itemsJSON, err := json.Marshal(doc.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	var riskJSON, taxJSON []byte
	if doc.Risk != nil {
		if riskJSON, err = json.Marshal(doc.Risk); err != nil {
			return fmt.Errorf("failed to marshal risk assessment: %w", err)
		}
	}
	if doc.Tax != nil {
		if taxJSON, err = json.Marshal(doc.Tax); err != nil {
			return fmt.Errorf("failed to marshal tax assessment: %w", err)
		}
	}

	doc.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE documents SET
			status = $2,
			vendor = $3,
			invoice_number = $4,
			invoice_date = $5,
			due_date = $6,
			subtotal = $7,
			tax_amount = $8,
			total = $9,
			currency = $10,
			tax_id = $11,
			region = $12,
			category = $13,
			items = $14,
			ocr_text = $15,
			ocr_confidence = $16,
			ocr_method = $17,
			risk = $18,
			tax = $19,
			pipeline_state = $20,
			tokens_used = $21,
			error_message = $22,
			error_code = $23,
			processed_at = $24,
			updated_at = $25
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		doc.ID, doc.Status, doc.Vendor, doc.InvoiceNumber, doc.InvoiceDate,
		doc.DueDate, doc.Subtotal, doc.TaxAmount, doc.Total, doc.Currency,
		doc.TaxID, doc.Region, doc.Category, itemsJSON, doc.OCRText,
		doc.OCRConfidence, doc.OCRMethod, riskJSON, taxJSON, pipelineJSON,
		doc.TokensUsed, doc.ErrorMessage, doc.ErrorCode, doc.ProcessedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

const documentColumns = `
	id, account_id, file_name, object_key, mime_type, size_bytes, status,
	vendor, invoice_number, invoice_date, due_date, subtotal, tax_amount,
	total, currency, tax_id, region, category, items,
	COALESCE(ocr_text, ''), COALESCE(ocr_confidence, 0), COALESCE(ocr_method, ''),
	risk, tax, pipeline_state, tokens_used, COALESCE(error_message, ''),
	COALESCE(error_code, ''), created_at, processed_at, updated_at`

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

// ListDocumentsByAccount returns the account's most recent documents, newest
// first. The fraud stage uses this as vendor history.
func (s *Store) ListDocumentsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var itemsJSON, riskJSON, taxJSON, pipelineJSON []byte

	err := row.Scan(
		&doc.ID, &doc.AccountID, &doc.FileName, &doc.ObjectKey, &doc.MimeType,
		&doc.SizeBytes, &doc.Status, &doc.Vendor, &doc.InvoiceNumber,
		&doc.InvoiceDate, &doc.DueDate, &doc.Subtotal, &doc.TaxAmount,
		&doc.Total, &doc.Currency, &doc.TaxID, &doc.Region, &doc.Category,
		&itemsJSON, &doc.OCRText, &doc.OCRConfidence, &doc.OCRMethod,
		&riskJSON, &taxJSON, &pipelineJSON, &doc.TokensUsed,
		&doc.ErrorMessage, &doc.ErrorCode, &doc.CreatedAt, &doc.ProcessedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &doc.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
		}
	}
	if len(riskJSON) > 0 {
		doc.Risk = &models.RiskAssessment{}
		if err := json.Unmarshal(riskJSON, doc.Risk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal risk assessment: %w", err)
		}
	}
	if len(taxJSON) > 0 {
		doc.Tax = &models.TaxAssessment{}
		if err := json.Unmarshal(taxJSON, doc.Tax); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tax assessment: %w", err)
		}
	}
	doc.Pipeline = models.PipelineState{}
	if len(pipelineJSON) > 0 {
		if err := json.Unmarshal(pipelineJSON, &doc.Pipeline); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pipeline state: %w", err)
		}
	}
	return &doc, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// AppendStageRecord inserts one immutable stage execution record. There is
// deliberately no update or delete path for stage_records.
func (s *Store) AppendStageRecord(ctx context.Context, rec *models.StageRecord) error {
	inputJSON, err := json.Marshal(rec.InputSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal input snapshot: %w", err)
	}
	outputJSON, err := json.Marshal(rec.OutputSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal output snapshot: %w", err)
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO stage_records (
			id, account_id, document_id, stage, status, duration_ms,
			tokens_charged, input_snapshot, output_snapshot, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.AccountID, rec.DocumentID, rec.Stage, rec.Status,
		rec.DurationMS, rec.TokensCharged, inputJSON, outputJSON,
		rec.ErrorMessage, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	return nil
}

// ListStageRecords returns a document's stage records oldest first.
func (s *Store) ListStageRecords(ctx context.Context, documentID uuid.UUID) ([]models.StageRecord, error) {
	query := `
		SELECT id, account_id, document_id, stage, status, duration_ms,
		       tokens_charged, input_snapshot, output_snapshot,
		       COALESCE(error_message, ''), created_at
		FROM stage_records
		WHERE document_id = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage records: %w", err)
	}
	defer rows.Close()

	var records []models.StageRecord
	for rows.Next() {
		var rec models.StageRecord
		var inputJSON, outputJSON []byte
		err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.DocumentID, &rec.Stage, &rec.Status,
			&rec.DurationMS, &rec.TokensCharged, &inputJSON, &outputJSON,
			&rec.ErrorMessage, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &rec.InputSnapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal input snapshot: %w", err)
			}
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &rec.OutputSnapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output snapshot: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// InsertProviderUsage appends one AI provider attempt record.
func (s *Store) InsertProviderUsage(ctx context.Context, u *models.ProviderUsage) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO provider_usage (
			id, account_id, provider, operation, units, cost, latency_ms,
			success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		u.ID, u.AccountID, u.Provider, u.Operation, u.Units, u.Cost,
		u.LatencyMS, u.Success, u.ErrorMessage, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider usage: %w", err)
	}
	return nil
}

// ProviderUnitsSince sums the units a provider has consumed since the given
// instant. The router calls this on every routing decision so quota checks
// always reflect the log, not a counter.
func (s *Store) ProviderUnitsSince(ctx context.Context, provider string, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(units), 0)
		FROM provider_usage
		WHERE provider = $1 AND success = true AND created_at >= $2`

	var units int64
	if err := s.pool.QueryRow(ctx, query, provider, since).Scan(&units); err != nil {
		return 0, fmt.Errorf("failed to sum provider usage: %w", err)
	}
	return units, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoiceai/invoice-pipeline-service/internal/ledger"
)

// PgLedger implements ledger.Ledger on the quota_accounts table. Every debit
// is a single conditional UPDATE, so concurrent debits against the same
// account serialize on the row and can never jointly overdraw it.
type PgLedger struct {
	store        *Store
	defaultDaily int64
}

// NewLedger wraps the store as a ledger. Unknown accounts are provisioned
// on first touch with the given daily free allowance.
func NewLedger(s *Store, defaultDaily int64) *PgLedger {
	return &PgLedger{store: s, defaultDaily: defaultDaily}
}

// EnsureAccount creates the quota row if it does not exist yet.
func (l *PgLedger) EnsureAccount(ctx context.Context, accountID uuid.UUID) error {
	query := `
		INSERT INTO quota_accounts (
			account_id, daily_free_tokens, daily_free_used, purchased_tokens,
			purchased_used, lifetime_used, last_daily_reset, created_at, updated_at
		) VALUES ($1, $2, 0, 0, 0, 0, NOW(), NOW(), NOW())
		ON CONFLICT (account_id) DO NOTHING`

	if _, err := l.store.pool.Exec(ctx, query, accountID, l.defaultDaily); err != nil {
		return fmt.Errorf("failed to ensure quota account: %w", err)
	}
	return nil
}

// resetIfDue lazily zeroes the daily bucket when the UTC day has rolled
// over since the account's last reset.
func (l *PgLedger) resetIfDue(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE quota_accounts
		SET daily_free_used = 0, last_daily_reset = NOW(), updated_at = NOW()
		WHERE account_id = $1
		  AND last_daily_reset < date_trunc('day', NOW() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'`

	if _, err := l.store.pool.Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to reset daily tokens: %w", err)
	}
	return nil
}

// Debit charges units against the account, daily bucket first. The WHERE
// clause guards the whole operation: when the combined buckets cannot cover
// the debit, zero rows update and nothing is charged.
func (l *PgLedger) Debit(ctx context.Context, accountID uuid.UUID, units int64, operation string) error {
	if units <= 0 {
		return nil
	}
	if err := l.EnsureAccount(ctx, accountID); err != nil {
		return err
	}
	if err := l.resetIfDue(ctx, accountID); err != nil {
		return err
	}

	query := `
		UPDATE quota_accounts
		SET daily_free_used = daily_free_used + LEAST($2, daily_free_tokens - daily_free_used),
		    purchased_used = purchased_used + GREATEST(0, $2 - (daily_free_tokens - daily_free_used)),
		    lifetime_used = lifetime_used + $2,
		    updated_at = NOW()
		WHERE account_id = $1
		  AND (daily_free_tokens - daily_free_used) + (purchased_tokens - purchased_used) >= $2`

	tag, err := l.store.pool.Exec(ctx, query, accountID, units)
	if err != nil {
		return fmt.Errorf("failed to debit tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrInsufficientTokens
	}
	return nil
}

// Credit adds purchased tokens to the account.
func (l *PgLedger) Credit(ctx context.Context, accountID uuid.UUID, units int64) error {
	if units <= 0 {
		return nil
	}
	if err := l.EnsureAccount(ctx, accountID); err != nil {
		return err
	}

	query := `
		UPDATE quota_accounts
		SET purchased_tokens = purchased_tokens + $2, updated_at = NOW()
		WHERE account_id = $1`

	if _, err := l.store.pool.Exec(ctx, query, accountID, units); err != nil {
		return fmt.Errorf("failed to credit tokens: %w", err)
	}
	return nil
}

// Balance reads the account's buckets after applying any pending daily reset.
func (l *PgLedger) Balance(ctx context.Context, accountID uuid.UUID) (*ledger.Balance, error) {
	if err := l.EnsureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if err := l.resetIfDue(ctx, accountID); err != nil {
		return nil, err
	}

	query := `
		SELECT daily_free_tokens, daily_free_used, purchased_tokens,
		       purchased_used, lifetime_used
		FROM quota_accounts
		WHERE account_id = $1`

	b := &ledger.Balance{AccountID: accountID}
	err := l.store.pool.QueryRow(ctx, query, accountID).Scan(
		&b.DailyFreeTokens, &b.DailyFreeUsed, &b.PurchasedTokens,
		&b.PurchasedUsed, &b.LifetimeUsed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quota account: %w", err)
	}

	daily := b.DailyFreeTokens - b.DailyFreeUsed
	if daily < 0 {
		daily = 0
	}
	purchased := b.PurchasedTokens - b.PurchasedUsed
	if purchased < 0 {
		purchased = 0
	}
	b.Remaining = daily + purchased
	return b, nil
}

// ResetDueDailyQuotas zeroes the daily bucket for every account whose last
// reset is before today (UTC). The worker runs this on a midnight ticker as
// a sweep; Debit and Balance also reset lazily per account.
func (l *PgLedger) ResetDueDailyQuotas(ctx context.Context) (int64, error) {
	query := `
		UPDATE quota_accounts
		SET daily_free_used = 0, last_daily_reset = NOW(), updated_at = NOW()
		WHERE last_daily_reset < date_trunc('day', NOW() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'`

	tag, err := l.store.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily quotas: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ ledger.Ledger = (*PgLedger)(nil)

// NextUTCMidnight returns the next UTC day boundary after now. The worker's
// reset loop sleeps until this instant.
func NextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

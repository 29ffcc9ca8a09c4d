package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// MemoryLedger is an in-process Ledger used when no database is configured
// and by tests. All operations serialize through a single mutex, so two
// concurrent debits against the same account can never both succeed on a
// balance that only covers one.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*models.QuotaAccount
	defaultDaily int64
	now          func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger. Unknown accounts are
// provisioned on first touch with the given daily free allowance.
func NewMemoryLedger(defaultDaily int64) *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[uuid.UUID]*models.QuotaAccount),
		defaultDaily: defaultDaily,
		now:          time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLedger) account(id uuid.UUID) *models.QuotaAccount {
	acct, ok := l.accounts[id]
	if !ok {
		acct = &models.QuotaAccount{
			AccountID:       id,
			DailyFreeTokens: l.defaultDaily,
			LastDailyReset:  l.now().UTC(),
			CreatedAt:       l.now().UTC(),
		}
		l.accounts[id] = acct
	}
	return acct
}

// resetIfDue zeroes the daily bucket when the UTC calendar day has rolled
// over since the last reset.
func (l *MemoryLedger) resetIfDue(acct *models.QuotaAccount) {
	now := l.now().UTC()
	last := acct.LastDailyReset.UTC()
	if last.Year() == now.Year() && last.YearDay() == now.YearDay() {
		return
	}
	acct.DailyFreeUsed = 0
	acct.LastDailyReset = now
}

func (l *MemoryLedger) Debit(ctx context.Context, accountID uuid.UUID, units int64, operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(accountID)
	l.resetIfDue(acct)

	fromDaily, fromPurchased, ok := splitDebit(acct.DailyRemaining(), acct.PurchasedRemaining(), units)
	if !ok {
		return ErrInsufficientTokens
	}

	acct.DailyFreeUsed += fromDaily
	acct.PurchasedUsed += fromPurchased
	acct.LifetimeUsed += units
	acct.UpdatedAt = l.now().UTC()
	return nil
}

func (l *MemoryLedger) Credit(ctx context.Context, accountID uuid.UUID, units int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(accountID)
	acct.PurchasedTokens += units
	acct.UpdatedAt = l.now().UTC()
	return nil
}

func (l *MemoryLedger) Balance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(accountID)
	l.resetIfDue(acct)

	return &Balance{
		AccountID:       acct.AccountID,
		DailyFreeTokens: acct.DailyFreeTokens,
		DailyFreeUsed:   acct.DailyFreeUsed,
		PurchasedTokens: acct.PurchasedTokens,
		PurchasedUsed:   acct.PurchasedUsed,
		LifetimeUsed:    acct.LifetimeUsed,
		Remaining:       acct.Remaining(),
	}, nil
}

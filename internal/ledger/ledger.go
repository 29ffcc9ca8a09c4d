package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInsufficientTokens is returned when a debit would overdraw the account.
// The account is left untouched: there are no partial debits.
var ErrInsufficientTokens = errors.New("insufficient tokens")

// ErrAccountNotFound is returned when the account has no quota row.
var ErrAccountNotFound = errors.New("quota account not found")

// Ledger is the token accounting boundary. Debit is atomic: it either
// charges the full amount or fails with ErrInsufficientTokens and no side
// effects. The daily free bucket drains before purchased tokens.
type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, units int64, operation string) error
	Credit(ctx context.Context, accountID uuid.UUID, units int64) error
	Balance(ctx context.Context, accountID uuid.UUID) (*Balance, error)
}

// Balance is a read-only snapshot of an account's buckets.
type Balance struct {
	AccountID       uuid.UUID `json:"accountId"`
	DailyFreeTokens int64     `json:"dailyFreeTokens"`
	DailyFreeUsed   int64     `json:"dailyFreeUsed"`
	PurchasedTokens int64     `json:"purchasedTokens"`
	PurchasedUsed   int64     `json:"purchasedUsed"`
	LifetimeUsed    int64     `json:"lifetimeUsed"`
	Remaining       int64     `json:"remaining"`
}

// splitDebit decides how a debit spreads across the two buckets. Daily free
// tokens go first; the remainder comes out of purchased. ok is false when
// the combined buckets cannot cover the debit.
func splitDebit(dailyRemaining, purchasedRemaining, units int64) (fromDaily, fromPurchased int64, ok bool) {
	if units <= 0 {
		return 0, 0, true
	}
	if dailyRemaining+purchasedRemaining < units {
		return 0, 0, false
	}
	fromDaily = units
	if fromDaily > dailyRemaining {
		fromDaily = dailyRemaining
	}
	fromPurchased = units - fromDaily
	return fromDaily, fromPurchased, true
}

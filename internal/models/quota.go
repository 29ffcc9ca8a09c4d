package models

import (
	"time"

	"github.com/google/uuid"
)

// QuotaAccount holds per-account token balances. Debits drain the daily free
// bucket first, then purchased tokens. The daily bucket resets on the UTC
// day boundary.
type QuotaAccount struct {
	AccountID       uuid.UUID `json:"accountId"`
	DailyFreeTokens int64     `json:"dailyFreeTokens"`
	DailyFreeUsed   int64     `json:"dailyFreeUsed"`
	PurchasedTokens int64     `json:"purchasedTokens"`
	PurchasedUsed   int64     `json:"purchasedUsed"`
	LifetimeUsed    int64     `json:"lifetimeUsed"`
	LastDailyReset  time.Time `json:"lastDailyReset"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DailyRemaining returns what is left in the daily free bucket.
func (q *QuotaAccount) DailyRemaining() int64 {
	r := q.DailyFreeTokens - q.DailyFreeUsed
	if r < 0 {
		return 0
	}
	return r
}

// PurchasedRemaining returns what is left of purchased tokens.
func (q *QuotaAccount) PurchasedRemaining() int64 {
	r := q.PurchasedTokens - q.PurchasedUsed
	if r < 0 {
		return 0
	}
	return r
}

// Remaining returns total spendable tokens across both buckets.
func (q *QuotaAccount) Remaining() int64 {
	return q.DailyRemaining() + q.PurchasedRemaining()
}

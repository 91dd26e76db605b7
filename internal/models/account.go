package models

import (
	"time"
)

// Account holds a member's withdrawable commission balance.
// Amounts are int64 paise to avoid floating-point drift.
type Account struct {
	ID        string    `json:"id" db:"id"`
	OwnerName string    `json:"owner_name" db:"owner_name"`
	Balance   int64     `json:"balance" db:"balance"` // invariant: >= 0
	Currency  string    `json:"currency" db:"currency"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LedgerEntry struct {
	ID        int       `json:"id" db:"id"`
	PayoutID  string    `json:"payout_id" db:"payout_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"` // negative for debits
	EntryType string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance   int64     `json:"balance" db:"balance"`       // running balance after the entry
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

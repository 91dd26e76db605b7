package models

import (
	"time"
)

// SettlementStatus tracks a batch through bank transmission. Failed batches
// are terminal; a superseding batch is created fresh, never retried in place.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementProcessing SettlementStatus = "processing"
	SettlementCompleted  SettlementStatus = "completed"
	SettlementFailed     SettlementStatus = "failed"
	SettlementReversed   SettlementStatus = "reversed"
)

// SettlementBatch groups processing payouts submitted to the bank as one
// file and reconciled as a unit. TotalAmount is the sum of member net
// amounts, recomputed and re-checked at completion.
type SettlementBatch struct {
	ID             string           `json:"id" db:"id"`
	BatchNumber    string           `json:"batch_number" db:"batch_number"`
	SettlementDate time.Time        `json:"settlement_date" db:"settlement_date"`
	PayoutIDs      []string         `json:"payout_ids" db:"-"`
	TotalAmount    int64            `json:"total_amount" db:"total_amount"`
	Currency       string           `json:"currency" db:"currency"`
	Status         SettlementStatus `json:"status" db:"status"`
	BankReference  string           `json:"bank_reference,omitempty" db:"bank_reference"`
	FailureReason  string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedBy      string           `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt       *time.Time       `json:"failed_at,omitempty" db:"failed_at"`
}

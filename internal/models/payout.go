package models

import (
	"time"
)

// PayoutStatus is the closed set of payout lifecycle states. Transition
// legality is enforced in one place (services.PayoutService); everything
// except Pending and Processing is terminal.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutRejected   PayoutStatus = "rejected"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Terminal reports whether no further transition is legal from s.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutRejected || s == PayoutCancelled
}

// BankDetails is the beneficiary account snapshot captured when a payout is
// requested. It is stored as JSON on the payout row and never updated
// afterwards, so later edits to a member's profile cannot redirect an
// in-flight transfer.
type BankDetails struct {
	AccountName   string `json:"accountName" validate:"required,min=2,max=150"`
	AccountNumber string `json:"accountNumber" validate:"required,min=9,max=18,numeric"`
	BankCode      string `json:"bankCode" validate:"required,min=3,max=6"`
	BankName      string `json:"bankName" validate:"required,min=2,max=150"`
	IFSC          string `json:"ifsc" validate:"required,ifsc"`
}

// PayoutRequest is an append-only audit record of one withdrawal attempt.
// Invariant: TDSAmount + NetAmount == RequestedAmount in every state.
type PayoutRequest struct {
	ID              string       `json:"id" db:"id"`
	AccountID       string       `json:"account_id" db:"account_id"`
	RequestedAmount int64        `json:"requested_amount" db:"requested_amount"`
	TDSAmount       int64        `json:"tds_amount" db:"tds_amount"`
	NetAmount       int64        `json:"net_amount" db:"net_amount"`
	Currency        string       `json:"currency" db:"currency"`
	BankDetails     BankDetails  `json:"bank_details" db:"bank_details"`
	Status          PayoutStatus `json:"status" db:"status"`

	RejectionReason      string  `json:"rejection_reason,omitempty" db:"rejection_reason"`
	GatewayTransactionID string  `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	Notes                string  `json:"notes,omitempty" db:"notes"`
	BatchID              *string `json:"batch_id,omitempty" db:"batch_id"`

	// Actor trail: who drove each transition. Threaded explicitly through
	// every mutating call, never read from ambient state.
	RequestedBy string `json:"requested_by" db:"requested_by"`
	ProcessedBy string `json:"processed_by,omitempty" db:"processed_by"`
	CompletedBy string `json:"completed_by,omitempty" db:"completed_by"`
	RejectedBy  string `json:"rejected_by,omitempty" db:"rejected_by"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// PayoutPage is the pagination envelope returned by the list endpoint.
type PayoutPage struct {
	Count    int             `json:"count"`
	Next     *int            `json:"next"`
	Previous *int            `json:"previous"`
	Results  []PayoutRequest `json:"results"`
}

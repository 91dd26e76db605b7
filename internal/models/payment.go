package models

import (
	"time"
)

const (
	PaymentMethodOnline = "online"
	PaymentMethodCash   = "cash"

	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
)

// Payment is a customer payment that a refund may later reverse.
// GatewayTransactionID is set only for gateway-confirmed online payments.
type Payment struct {
	ID                   string    `json:"id" db:"id"`
	BookingReference     string    `json:"booking_reference" db:"booking_reference"`
	Amount               int64     `json:"amount" db:"amount"`
	Currency             string    `json:"currency" db:"currency"`
	Method               string    `json:"method" db:"method"`
	Status               string    `json:"status" db:"status"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// RefundRecord reverses a completed payment, fully or partially. A payment
// carries at most one refund; RefundAmount never exceeds the payment amount.
type RefundRecord struct {
	ID              string    `json:"id" db:"id"`
	PaymentID       string    `json:"payment_id" db:"payment_id"`
	RefundAmount    int64     `json:"refund_amount" db:"refund_amount"`
	IsFull          bool      `json:"is_full" db:"is_full"`
	GatewayRefundID string    `json:"gateway_refund_id" db:"gateway_refund_id"`
	Status          string    `json:"status" db:"status"`
	CreatedBy       string    `json:"created_by" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// BalanceAmount is what the UI displays as the remaining value of a payment
// after its refund.
func (p *Payment) BalanceAmount(r *RefundRecord) int64 {
	if r == nil {
		return p.Amount
	}
	return p.Amount - r.RefundAmount
}
